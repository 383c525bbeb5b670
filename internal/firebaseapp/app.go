// Package firebaseapp owns the Firebase Admin SDK client for a run. The
// handle is created explicitly in main and passed to whatever needs Firebase;
// the SDK app itself is built once, on first use.
package firebaseapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

var (
	ErrMissingCredentials = errors.New("FIREBASE_CREDENTIALS_JSON is not set")
	ErrInvalidCredentials = errors.New("firebase credentials are not a service account key")
)

type Handle struct {
	credentials []byte
	databaseURL string

	mu  sync.Mutex
	app *firebase.App
}

// New validates the service account blob without contacting Google.
func New(credentialsJSON, databaseURL string) (*Handle, error) {
	credentialsJSON = strings.TrimSpace(credentialsJSON)
	if credentialsJSON == "" {
		return nil, ErrMissingCredentials
	}

	var key struct {
		Type        string `json:"type"`
		ProjectID   string `json:"project_id"`
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal([]byte(credentialsJSON), &key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if key.Type != "service_account" || key.ProjectID == "" || key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, ErrInvalidCredentials
	}

	return &Handle{
		credentials: []byte(credentialsJSON),
		databaseURL: strings.TrimSpace(databaseURL),
	}, nil
}

// App returns the SDK app, constructing it if absent. A failed construction
// is not cached, so a later call may succeed.
func (h *Handle) App(ctx context.Context) (*firebase.App, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.app != nil {
		return h.app, nil
	}

	var cfg *firebase.Config
	if h.databaseURL != "" {
		cfg = &firebase.Config{DatabaseURL: h.databaseURL}
	}
	app, err := firebase.NewApp(ctx, cfg, option.WithCredentialsJSON(h.credentials))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	h.app = app
	return app, nil
}

func (h *Handle) Messaging(ctx context.Context) (*messaging.Client, error) {
	app, err := h.App(ctx)
	if err != nil {
		return nil, err
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase messaging: %w", err)
	}
	return client, nil
}

func (h *Handle) Database(ctx context.Context) (*db.Client, error) {
	if h.databaseURL == "" {
		return nil, errors.New("FIREBASE_DATABASE_URL is required for the firebase store")
	}
	app, err := h.App(ctx)
	if err != nil {
		return nil, err
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase database: %w", err)
	}
	return client, nil
}
