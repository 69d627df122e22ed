package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"tablecast/internal/wire"
)

// ErrDecode marks a malformed inbound payload. Kept distinct from
// business-rule errors so a broken client frame is never mistaken for
// a rules rejection.
var ErrDecode = errors.New("invalid command")

// command is the closed set of inbound requests. parseCommand is the
// only constructor; handlers switch over it exhaustively.
type command interface {
	isCommand()
}

type getRandomTable struct{}

type changeName struct {
	Name string
}

type startGame struct{}

type joinTable struct {
	TableID    string
	PlayerName string
}

type unknownCommand struct {
	Name string
}

func (getRandomTable) isCommand() {}
func (changeName) isCommand()     {}
func (startGame) isCommand()      {}
func (joinTable) isCommand()      {}
func (unknownCommand) isCommand() {}

func parseCommand(raw []byte) (command, error) {
	var in wire.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	switch in.Command {
	case "get_random_table":
		return getRandomTable{}, nil
	case "change_name":
		var name string
		if err := json.Unmarshal(in.Data, &name); err != nil {
			return nil, fmt.Errorf("%w: change_name data: %v", ErrDecode, err)
		}
		return changeName{Name: name}, nil
	case "start_game":
		return startGame{}, nil
	case "join_table":
		var data struct {
			TableID    string `json:"table_id"`
			PlayerName string `json:"player_name"`
		}
		if len(in.Data) > 0 {
			if err := json.Unmarshal(in.Data, &data); err != nil {
				return nil, fmt.Errorf("%w: join_table data: %v", ErrDecode, err)
			}
		}
		return joinTable{TableID: data.TableID, PlayerName: data.PlayerName}, nil
	default:
		return unknownCommand{Name: in.Command}, nil
	}
}
