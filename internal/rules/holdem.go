package rules

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"tablecast/internal/table"
)

var (
	ranks = []string{"2", "3", "4", "5", "6", "7", "8", "9", "T", "J", "Q", "K", "A"}
	suits = []string{"c", "d", "h", "s"}
)

func newDeck() []string {
	deck := make([]string, 0, len(ranks)*len(suits))
	for _, s := range suits {
		for _, r := range ranks {
			deck = append(deck, r+s)
		}
	}
	rand.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	return deck
}

// holdemEngine is the default Engine the server runs with. It covers
// table construction, hand start and post-hoc invariant repair;
// intra-round betting is out of scope for the synchronization layer.
type holdemEngine struct{}

// Default returns the hold'em engine.
func Default() Engine { return holdemEngine{} }

func (holdemEngine) NewTable(id string, seed *table.Player) (*table.Table, error) {
	if id == "" {
		return nil, fmt.Errorf("empty table id")
	}
	t := &table.Table{
		ID:                    id,
		SeatsAvailable:        table.MaxSeats,
		Players:               []table.Player{},
		Dealer:                0,
		RoundState:            table.RoundNotStarted,
		Bets:                  []int64{},
		Pot:                   0,
		ActionTo:              0,
		SeatsStartingInRound:  []int{},
		SeatsCurrentlyInRound: []int{},
	}
	if seed != nil {
		p := *seed
		p.Seat = 0
		if p.Stack == 0 {
			p.Stack = table.DefaultStack
		}
		t.Players = append(t.Players, p)
		t.SeatsAvailable--
	}
	return t, nil
}

func (holdemEngine) Apply(t *table.Table, action Action) (*table.Table, error) {
	switch action.(type) {
	case StartGame:
		return startGame(t)
	default:
		return nil, fmt.Errorf("unsupported action %T", action)
	}
}

func startGame(t *table.Table) (*table.Table, error) {
	if t == nil {
		return nil, NewViolation("table is null")
	}
	if t.RoundState != table.RoundNotStarted {
		return nil, NewViolation("game already started")
	}
	if len(t.Players) < 2 {
		return nil, NewViolation("not enough players to start")
	}

	next := t.Clone()
	next.RoundState = table.RoundInProgress
	next.Deck = newDeck()
	next.Pot = 0
	next.Bets = []int64{}

	seats := make([]int, 0, len(next.Players))
	for _, p := range next.Players {
		seats = append(seats, p.Seat)
	}
	sort.Ints(seats)
	next.SeatsStartingInRound = seats
	next.SeatsCurrentlyInRound = append([]int(nil), seats...)
	next.ActionTo = nextSeat(seats, next.Dealer)

	// Two hole cards per player, in seat order.
	for _, seat := range seats {
		for i := range next.Players {
			if next.Players[i].Seat == seat {
				next.Players[i].Cards = []string{next.Deck[0], next.Deck[1]}
				next.Deck = next.Deck[2:]
			}
		}
	}
	return next, nil
}

// nextSeat returns the first occupied seat strictly after the dealer,
// wrapping around.
func nextSeat(seats []int, dealer int) int {
	if len(seats) == 0 {
		return 0
	}
	for _, s := range seats {
		if s > dealer {
			return s
		}
	}
	return seats[0]
}

func (holdemEngine) Normalize(t *table.Table) (*table.Table, error) {
	if t == nil {
		return nil, NewViolation("table is null")
	}
	next := t.Clone()

	if want := table.MaxSeats - len(next.Players); next.SeatsAvailable != want {
		next.SeatsAvailable = want
	}

	occupied := make(map[int]bool, len(next.Players))
	for _, p := range next.Players {
		occupied[p.Seat] = true
	}
	next.SeatsStartingInRound = pruneSeats(next.SeatsStartingInRound, occupied)
	next.SeatsCurrentlyInRound = pruneSeats(next.SeatsCurrentlyInRound, occupied)

	// A round cannot continue with fewer than two players.
	if next.RoundState == table.RoundInProgress && len(next.Players) < 2 {
		next.RoundState = table.RoundNotStarted
		next.Deck = nil
		next.Pot = 0
		next.Bets = []int64{}
		next.SeatsStartingInRound = []int{}
		next.SeatsCurrentlyInRound = []int{}
		for i := range next.Players {
			next.Players[i].Cards = nil
		}
	}

	if table.Equal(t, next) {
		return t, nil
	}
	return next, nil
}

func pruneSeats(seats []int, occupied map[int]bool) []int {
	kept := seats[:0:0]
	for _, s := range seats {
		if occupied[s] {
			kept = append(kept, s)
		}
	}
	if kept == nil {
		kept = []int{}
	}
	return kept
}
