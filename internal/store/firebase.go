package store

import (
	"context"
	"encoding/json"
	"strings"

	"firebase.google.com/go/v4/db"
)

// Firebase keeps values as JSON trees in the Realtime Database, at the same
// paths the mobile app reads ("state/<id>", "tokens").
type Firebase struct {
	client *db.Client
	root   string
}

func NewFirebase(client *db.Client, root string) *Firebase {
	return &Firebase{client: client, root: strings.Trim(root, "/")}
}

func (f *Firebase) ref(path string) *db.Ref {
	if f.root == "" {
		return f.client.NewRef(path)
	}
	return f.client.NewRef(f.root + "/" + path)
}

func (f *Firebase) Get(ctx context.Context, path string) ([]byte, bool, error) {
	var raw json.RawMessage
	if err := f.ref(path).Get(ctx, &raw); err != nil {
		return nil, false, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false, nil
	}
	return raw, true, nil
}

// Set writes value at path. RTDB drops empty arrays, so a confirmed zero is
// stored as a missing node and reads back as a first run with no baseline.
func (f *Firebase) Set(ctx context.Context, path string, value []byte) error {
	return f.ref(path).Set(ctx, json.RawMessage(value))
}

func (f *Firebase) Close() error { return nil }
