package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/capstan/pkg/config/configstore"
	"github.com/andrej220/capstan/pkg/config/filestore"
	"github.com/andrej220/capstan/pkg/config/mongostore"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

var (
	ErrInvalidStoreType = errors.New("invalid store type")
)

type FileConfig struct {
	Path string `yaml:"path" json:"path"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	DBName   string `yaml:"dbName" json:"dbName"`
	CollName string `yaml:"collName" json:"collName"`
	ID       string `yaml:"id" json:"id"` // Document ID
}

func NewStore(storeType StoreType, cfg any) (configstore.ConfigStore, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for file store, expected *FileConfig")
		}
		return filestore.New(fileCfg.Path), nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for mongo store, expected *MongoConfig")
		}
		return mongostore.New(mongoCfg.URI, mongoCfg.DBName, mongoCfg.CollName, mongoCfg.ID)
	default:
		return nil, ErrInvalidStoreType
	}
}

// Load reads and validates a deployment document from store.
func Load(ctx context.Context, store configstore.ConfigStore) (*Deployment, error) {
	var d Deployment
	if err := store.Load(ctx, &d); err != nil {
		return nil, err
	}
	d.applyDefaults()
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deployment config: %w", err)
	}
	return &d, nil
}
