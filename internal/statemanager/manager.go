package statemanager

import (
	"amm-volume-bot/internal/models"
	"amm-volume-bot/internal/persistence"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StateManager is responsible for all session state mutations and persistence.
// It ensures that all state changes are processed serially.
type StateManager struct {
	mu              sync.RWMutex
	state           *models.BotState
	repo            persistence.StateRepository
	eventChannel    chan NormalizedEvent
	persistenceChan chan *models.BotState
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *zap.Logger
}

// NewStateManager creates a new StateManager. repo may be nil to disable persistence.
func NewStateManager(initialState *models.BotState, repo persistence.StateRepository, logger *zap.Logger) *StateManager {
	return &StateManager{
		state:           initialState,
		repo:            repo,
		eventChannel:    make(chan NormalizedEvent, 1024),
		persistenceChan: make(chan *models.BotState, 128),
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
}

// Start begins the state manager's event processing and persistence loops.
func (sm *StateManager) Start() {
	sm.wg.Add(2)
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop shuts down both loops and waits for them. Safe to call twice.
// Snapshots not yet persisted are dropped, call Flush afterwards to save the final state.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
		sm.wg.Wait()
		sm.logger.Sugar().Info("StateManager stopped.")
	})
}

// DispatchEvent sends an event to the StateManager for processing.
// Events dispatched after Stop are discarded.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) {
	select {
	case sm.eventChannel <- event:
	case <-sm.stopChan:
	}
}

// GetStateSnapshot returns a deep copy of the current state for safe, concurrent reading.
func (sm *StateManager) GetStateSnapshot() *models.BotState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return deepCopy(sm.state)
}

// Flush persists the current state synchronously, used at shutdown.
func (sm *StateManager) Flush() error {
	if sm.repo == nil {
		return nil
	}
	snapshot := sm.GetStateSnapshot()
	if snapshot == nil {
		return nil
	}
	return sm.repo.SaveState(snapshot)
}

func deepCopy(state *models.BotState) *models.BotState {
	if state == nil {
		return nil
	}
	stateCopy := *state
	if state.Wallets != nil {
		stateCopy.Wallets = make(map[string]*models.WalletStats, len(state.Wallets))
		for k, v := range state.Wallets {
			if v != nil {
				ws := *v
				stateCopy.Wallets[k] = &ws
			}
		}
	}
	return &stateCopy
}

// eventLoop is the core processing loop that handles all incoming events serially.
// Events already buffered when Stop is called are still applied.
func (sm *StateManager) eventLoop() {
	defer sm.wg.Done()
	for {
		select {
		case event := <-sm.eventChannel:
			sm.processEvent(event)
		case <-sm.stopChan:
			for {
				select {
				case event := <-sm.eventChannel:
					sm.processEvent(event)
				default:
					return
				}
			}
		}
	}
}

// persistenceLoop handles the asynchronous saving of state snapshots.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	for {
		select {
		case stateToSave := <-sm.persistenceChan:
			if sm.repo != nil {
				if err := sm.repo.SaveState(stateToSave); err != nil {
					sm.logger.Sugar().Errorf("Failed to save session state: %v", err)
				}
			}
		case <-sm.stopChan:
			return
		}
	}
}

// processEvent contains the logic to mutate the state based on an event.
func (sm *StateManager) processEvent(event NormalizedEvent) {
	sm.mu.Lock()
	if !sm.apply(event) {
		sm.mu.Unlock()
		sm.logger.Sugar().Warnf("Received %s event with unexpected data type: %T", event.Type, event.Data)
		return
	}
	if sm.state != nil {
		sm.state.LastUpdateTime = event.Timestamp
		if sm.state.LastUpdateTime.IsZero() {
			sm.state.LastUpdateTime = time.Now()
		}
	}
	stateCopy := deepCopy(sm.state)
	sm.mu.Unlock()

	if stateCopy == nil {
		return
	}
	select {
	case sm.persistenceChan <- stateCopy:
	case <-sm.stopChan:
	}
}

// apply mutates the state, must be called with mu held. Returns false on a malformed event.
func (sm *StateManager) apply(event NormalizedEvent) bool {
	if event.Type == StateResetEvent {
		newState, ok := event.Data.(*models.BotState)
		if !ok {
			return false
		}
		sm.state = newState
		sm.logger.Sugar().Info("Session state has been reset.")
		return true
	}
	if sm.state == nil {
		return true
	}

	s := sm.state
	switch event.Type {
	case RunStateChangedEvent:
		d, ok := event.Data.(RunStateData)
		if !ok {
			return false
		}
		s.Running = d.Running
	case CycleStartedEvent:
		d, ok := event.Data.(CycleData)
		if !ok {
			return false
		}
		s.CurrentCycle = d.Cycle
	case CycleCompletedEvent:
		d, ok := event.Data.(CycleData)
		if !ok {
			return false
		}
		s.CurrentCycle = d.Cycle
		s.CyclesCompleted++
	case PriceObservedEvent:
		d, ok := event.Data.(PriceData)
		if !ok {
			return false
		}
		s.LastPrice = d.Price
	case WalletVisitedEvent:
		d, ok := event.Data.(WalletVisitData)
		if !ok {
			return false
		}
		ws := s.Wallet(d.Address)
		ws.Visits++
		ws.LastBalance = d.Balance
		ws.LastSeen = event.Timestamp
	case WalletSkippedEvent:
		d, ok := event.Data.(WalletSkipData)
		if !ok {
			return false
		}
		s.WalletsSkipped++
		ws := s.Wallet(d.Address)
		ws.Skipped++
		if d.Balance > 0 {
			ws.LastBalance = d.Balance
		}
		ws.LastSeen = event.Timestamp
	case OfferPlacedEvent:
		d, ok := event.Data.(OfferData)
		if !ok {
			return false
		}
		s.OffersPlaced++
		ws := s.Wallet(d.Address)
		ws.Placed++
		ws.LastResultCode = d.Code
	case OfferRejectedEvent:
		d, ok := event.Data.(OfferData)
		if !ok {
			return false
		}
		s.OffersRejected++
		ws := s.Wallet(d.Address)
		ws.Rejected++
		ws.LastResultCode = d.Code
	case OfferSuppressedEvent:
		if _, ok := event.Data.(OfferData); !ok {
			return false
		}
		s.OffersSkipped++
	case OffersCancelledEvent:
		d, ok := event.Data.(CancelData)
		if !ok {
			return false
		}
		s.OffersCancelled += d.Cancelled
		s.Wallet(d.Address).Cancelled += d.Cancelled
	case OpenOffersObservedEvent:
		d, ok := event.Data.(OpenOffersData)
		if !ok {
			return false
		}
		s.Wallet(d.Address).OpenOffers = d.Count
		s.ActiveOffers = 0
		for _, ws := range s.Wallets {
			s.ActiveOffers += ws.OpenOffers
		}
	default:
		return false
	}
	return true
}
