package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/fleet-tracker/internal/geo"
	"github.com/example/fleet-tracker/internal/models"
)

type commandKind int

const (
	cmdHelp commandKind = iota
	cmdList
	cmdShow
	cmdSelect
	cmdNav
	cmdHistory
	cmdDeselect
	cmdReset
	cmdCenter
	cmdMe
	cmdQuit
)

type command struct {
	kind  commandKind
	id    string
	day   time.Time
	coord models.Coord
}

const helpText = `commands:
  list                      devices by region with offline status
  show                      current mode, selection and path
  select <id>               highlight a device
  nav <id>                  route from me to a device
  history <id> <YYYY-MM-DD> show one day of a device's path
  deselect | reset | center
  me <lat> <lng>            set my own position
  quit
`

var errEmpty = errors.New("type help for commands")

func parseCommand(line string) (command, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return command{}, errEmpty
	}
	name, args := strings.ToLower(f[0]), f[1:]
	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d argument(s)", name, n)
		}
		return nil
	}
	switch name {
	case "help", "?":
		return command{kind: cmdHelp}, nil
	case "list", "ls":
		return command{kind: cmdList}, nil
	case "show":
		return command{kind: cmdShow}, nil
	case "deselect":
		return command{kind: cmdDeselect}, nil
	case "reset":
		return command{kind: cmdReset}, nil
	case "center":
		return command{kind: cmdCenter}, nil
	case "quit", "exit":
		return command{kind: cmdQuit}, nil
	case "select", "nav":
		if err := need(1); err != nil {
			return command{}, err
		}
		kind := cmdSelect
		if name == "nav" {
			kind = cmdNav
		}
		return command{kind: kind, id: args[0]}, nil
	case "history":
		if err := need(2); err != nil {
			return command{}, err
		}
		day, err := time.Parse("2006-01-02", args[1])
		if err != nil {
			return command{}, fmt.Errorf("date must be YYYY-MM-DD")
		}
		return command{kind: cmdHistory, id: args[0], day: day}, nil
	case "me":
		if err := need(2); err != nil {
			return command{}, err
		}
		lat, errLat := strconv.ParseFloat(args[0], 64)
		lng, errLng := strconv.ParseFloat(args[1], 64)
		if errLat != nil || errLng != nil || !geo.ValidLat(lat) || !geo.ValidLng(lng) {
			return command{}, fmt.Errorf("me needs a valid latitude and longitude")
		}
		return command{kind: cmdMe, coord: models.Coord{Lat: lat, Lng: lng}}, nil
	}
	return command{}, fmt.Errorf("unknown command %q; %v", name, errEmpty)
}
