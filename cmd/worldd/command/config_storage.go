package command

import (
	"fmt"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-worldstate/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

type StorageConfig struct {
	DatabasePath string `json:"database_path"`
	PasswordCost int    `json:"password_cost"`
}

func (c *StorageConfig) validate(mode storage.Mode) error {
	el := errors.NewErrorList()

	if mode == storage.ModeMultiplayer && c.DatabasePath == "" {
		el.Add(fmt.Errorf("storage.database_path is required in multiplayer mode"))
	}
	if c.PasswordCost != 0 && (c.PasswordCost < bcrypt.MinCost || c.PasswordCost > bcrypt.MaxCost) {
		el.Add(fmt.Errorf("storage.password_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}

	return el.Err()
}

func (c *StorageConfig) buildLocalStorage(root string) *storage.LocalStorage {
	return storage.NewLocalStorage(root, storage.ModeSinglePlayer)
}

func (c *StorageConfig) buildServerStorage(root string) *storage.ServerStorage {
	var opts []storage.ServerStorageOpt
	if c.PasswordCost != 0 {
		opts = append(opts, storage.WithPasswordCost(c.PasswordCost))
	}

	return storage.NewServerStorage(c.DatabasePath, root, opts...)
}
