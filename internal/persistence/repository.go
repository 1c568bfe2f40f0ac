package persistence

import "amm-volume-bot/internal/models"

// StateRepository defines the interface for session state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveState saves the session state as the latest session and under its run ID.
	SaveState(state *models.BotState) error

	// LoadState loads the latest session state.
	// If no state is found, it should return (nil, nil).
	LoadState() (*models.BotState, error)

	// LoadSession loads a session by run ID, (nil, nil) if unknown.
	LoadSession(runID string) (*models.BotState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
