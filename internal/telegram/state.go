package telegram

import "sync"

// State is the step of a user's conversation
type State string

// State constants
const (
	StateIdle                     State = ""
	StateAwaitingWallet           State = "awaiting_wallet"
	StateAwaitingWithdrawalAmount State = "awaiting_withdrawal_amount"
	StateAwaitingRate             State = "awaiting_rate"
	StateAwaitingGrant            State = "awaiting_grant"
)

// StateManager keeps per-user conversation state and serializes the events of
// each user.
type StateManager struct {
	mu     sync.Mutex
	states map[int64]State
	locks  map[int64]*sync.Mutex
}

// NewStateManager creates a new state manager
func NewStateManager() *StateManager {
	return &StateManager{
		states: make(map[int64]State),
		locks:  make(map[int64]*sync.Mutex),
	}
}

// Lock blocks until no other event of userID is being handled and returns the
// unlock function.
func (sm *StateManager) Lock(userID int64) func() {
	sm.mu.Lock()
	l, ok := sm.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		sm.locks[userID] = l
	}
	sm.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Set sets a user's state
func (sm *StateManager) Set(userID int64, state State) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if state == StateIdle {
		delete(sm.states, userID)
		return
	}
	sm.states[userID] = state
}

// Get returns a user's current state, StateIdle when none
func (sm *StateManager) Get(userID int64) State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.states[userID]
}

// Clear resets a user to StateIdle
func (sm *StateManager) Clear(userID int64) {
	sm.Set(userID, StateIdle)
}
