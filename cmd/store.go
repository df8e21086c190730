package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/scholarmap/citemap-cli/internal/checkpoint"
	"github.com/scholarmap/citemap-cli/internal/config"
)

// newStore builds the checkpoint backend selected by store.driver. All
// backends take an advisory lock, so a second concurrent invocation fails
// fast with checkpoint.ErrLocked instead of corrupting the run state.
func newStore(ctx context.Context, sc config.StoreConfig) (checkpoint.Store, error) {
	var (
		store checkpoint.Store
		err   error
	)
	switch sc.Driver {
	case "file":
		store, err = checkpoint.NewFile(sc.Dir)
	case "sqlite":
		store, err = checkpoint.NewSQLite(ctx, sc.Path)
	case "postgres":
		store, err = checkpoint.NewPostgres(ctx, sc.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q (want file, sqlite, or postgres)", sc.Driver)
	}
	if eris.Is(err, checkpoint.ErrLocked) {
		return nil, eris.Wrap(err, "another run is already using this checkpoint store")
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
