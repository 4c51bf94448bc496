package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"carelink/internal/adapter/repository"
	domainrepo "carelink/internal/domain/repository"
	"carelink/internal/domain/service"
	"carelink/internal/infrastructure/database"
	"carelink/internal/infrastructure/identity"
	"carelink/internal/infrastructure/storage"
	"carelink/pkg/config"
	"carelink/pkg/logger"
)

// backends holds the external clients the process owns.
type backends struct {
	firestore *firestore.Client
	auth      *auth.Client
	storage   *storage.CloudStorageClient
	db        *gorm.DB
	closers   []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func firebaseOption(cfg *config.Config) []option.ClientOption {
	if cfg.FirebaseServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))}
	}
	if cfg.FirebaseServiceAccountPath != "" {
		if _, err := os.Stat(cfg.FirebaseServiceAccountPath); err == nil {
			logger.Info("Using Firebase service account from file: %s", cfg.FirebaseServiceAccountPath)
			return []option.ClientOption{option.WithCredentialsFile(cfg.FirebaseServiceAccountPath)}
		}
		logger.Warn("Service account file %s not found, using default credentials", cfg.FirebaseServiceAccountPath)
	}
	return nil
}

func newBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	opts := firebaseOption(cfg)

	if cfg.UsesFirebase() && cfg.FirebaseProject != "" {
		app, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opts...)
		if err != nil {
			return nil, fmt.Errorf("firebase: %w", err)
		}

		if cfg.IdentityProvider == "firebase" {
			b.auth, err = app.Auth(ctx)
			if err != nil {
				return nil, fmt.Errorf("firebase auth: %w", err)
			}
		}

		if cfg.StoreDriver == "firestore" {
			b.firestore, err = app.Firestore(ctx)
			if err != nil {
				return nil, fmt.Errorf("firestore: %w", err)
			}
			client := b.firestore
			b.closers = append(b.closers, func() { client.Close() })
		}
	}

	if cfg.StorageBucket != "" {
		client, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, opts...)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.storage = client
		b.closers = append(b.closers, func() { client.Close() })
	}

	if cfg.StoreDriver == database.DriverMySQL || cfg.StoreDriver == database.DriverSQLite {
		db, err := database.Connect(cfg.StoreDriver, cfg.DatabaseDSN, cfg.Environment == "development")
		if err != nil {
			b.Close()
			return nil, err
		}
		if err := repository.AutoMigrate(db); err != nil {
			database.Close(db)
			b.Close()
			return nil, err
		}
		b.db = db
		b.closers = append(b.closers, func() { database.Close(db) })
	}

	return b, nil
}

type stores struct {
	conversations domainrepo.ConversationRepository
	messages      domainrepo.MessageRepository
	markers       domainrepo.ReadMarkerRepository
	directory     domainrepo.ParticipantDirectory
	ping          func() error
}

func newStores(cfg *config.Config, b *backends) (*stores, error) {
	switch {
	case b.firestore != nil:
		client := b.firestore
		return &stores{
			conversations: repository.NewFirestoreConversationRepository(client),
			messages:      repository.NewFirestoreMessageRepository(client),
			markers:       repository.NewFirestoreReadMarkerRepository(client),
			directory:     repository.NewFirestoreDirectory(client),
			ping: func() error {
				pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_, err := client.Collection("conversations").Limit(1).Documents(pingCtx).GetAll()
				return err
			},
		}, nil

	case b.db != nil:
		db := b.db
		return &stores{
			conversations: repository.NewGormConversationRepository(db),
			messages:      repository.NewGormMessageRepository(db),
			markers:       repository.NewGormReadMarkerRepository(db),
			directory:     repository.NewGormDirectory(db),
			ping: func() error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				return sqlDB.PingContext(pingCtx)
			},
		}, nil
	}
	return nil, fmt.Errorf("no backend for store driver %q", cfg.StoreDriver)
}

// newIdentityResolver returns the configured resolver, plus the HS256 issuer
// when tokens are minted locally.
func newIdentityResolver(cfg *config.Config, b *backends, directory domainrepo.ParticipantDirectory) (service.IdentityResolver, *identity.JWTResolver, error) {
	switch cfg.IdentityProvider {
	case "firebase":
		if b.auth == nil {
			return nil, nil, fmt.Errorf("firebase auth client not initialized")
		}
		return identity.NewFirebaseResolver(b.auth, directory), nil, nil

	case "jwt":
		resolver := identity.NewJWTResolver(cfg.JWTSecret, time.Duration(cfg.JWTExpiry)*time.Second, directory)
		return resolver, resolver, nil

	case "jwks":
		resolver, err := identity.NewJWKSResolver(cfg.JWKSURL, directory)
		if err != nil {
			return nil, nil, err
		}
		b.closers = append(b.closers, resolver.Close)
		return resolver, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown identity provider %q", cfg.IdentityProvider)
}
