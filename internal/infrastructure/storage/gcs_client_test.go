package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectName(t *testing.T) {
	a := ObjectName("direct_doctor-1_patient-1", "../../etc/labs.pdf")
	b := ObjectName("direct_doctor-1_patient-1", "labs.pdf")

	assert.True(t, strings.HasPrefix(a, "attachments/direct_doctor-1_patient-1/"))
	assert.True(t, strings.HasSuffix(a, "/labs.pdf"))
	assert.NotContains(t, a, "..")
	assert.NotEqual(t, a, b)
}

func TestObjectFromURL(t *testing.T) {
	c := &CloudStorageClient{bucketName: "carelink-files"}

	name, err := c.objectFromURL(c.objectURL("attachments/c1/x/labs.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "attachments/c1/x/labs.pdf", name)

	for _, bad := range []string{
		"http://example.com/carelink-files/a",
		"https://storage.googleapis.com/other-bucket/a",
		"https://storage.googleapis.com/carelink-files/",
	} {
		_, err := c.objectFromURL(bad)
		assert.Error(t, err, bad)
	}
}
