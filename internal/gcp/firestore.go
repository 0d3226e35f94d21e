package gcp

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
)

// NewFirestoreClient opens the client behind the page metadata collection.
// Page records are small and keyed by object path, so one client per process
// serves every store call.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, errors.New("a project ID is required for the firestore page store")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to open firestore page store for project %s: %w", projectID, err)
	}
	return client, nil
}
