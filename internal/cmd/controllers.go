package cmd

import (
	"fmt"
	"log/slog"

	"github.com/isaacs-12/nso-gc-bridge/internal/storage"
)

// Controllers groups the controller management subcommands.
type Controllers struct {
	List   ControllersList   `cmd:"" default:"withargs" help:"List remembered controllers"`
	Add    ControllersAdd    `cmd:"" help:"Remember a BLE controller"`
	Remove ControllersRemove `cmd:"" help:"Forget a BLE controller"`
}

type ControllersList struct{}

func (c *ControllersList) Run(logger *slog.Logger) error {
	store := &storage.Store{}
	list, err := store.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No controllers remembered.")
		return nil
	}
	for _, ctl := range list {
		name := ctl.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%s  %s  added %s\n", ctl.Address, name, ctl.AddedAt.Format("2006-01-02"))
	}
	return nil
}

type ControllersAdd struct {
	Address string `arg:"" help:"Bluetooth address, e.g. AA:BB:CC:DD:EE:FF"`
	Name    string `help:"Friendly name"`
}

func (c *ControllersAdd) Run(logger *slog.Logger) error {
	store := &storage.Store{}
	if err := store.Add(c.Address, c.Name); err != nil {
		return err
	}
	logger.Info("Controller remembered", "address", c.Address)
	return nil
}

type ControllersRemove struct {
	Address string `arg:"" help:"Bluetooth address to forget"`
}

func (c *ControllersRemove) Run(logger *slog.Logger) error {
	store := &storage.Store{}
	if err := store.Remove(c.Address); err != nil {
		return err
	}
	logger.Info("Controller forgotten", "address", c.Address)
	return nil
}
