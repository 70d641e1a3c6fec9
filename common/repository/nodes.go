package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vstore/vstore/common/db"
	"github.com/vstore/vstore/common/errs"
	"github.com/vstore/vstore/common/models"
)

// NodeRepository handles database operations for storage nodes
type NodeRepository struct {
	db *db.DB
}

// NewNodeRepository creates a new node repository
func NewNodeRepository(database *db.DB) *NodeRepository {
	return &NodeRepository{db: database}
}

const nodeColumns = `uuid, address, port, latitude, longitude, node_type,
	bandwidth_up, bandwidth_down`

// Upsert inserts or updates a node row keyed by uuid
func (r *NodeRepository) Upsert(ctx context.Context, n *models.StorageNode) error {
	query := `
		INSERT INTO nodes (` + nodeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (uuid) DO UPDATE
		SET address = $2, port = $3, latitude = $4, longitude = $5,
		    node_type = $6, bandwidth_up = $7, bandwidth_down = $8
	`

	var lat, lng *float64
	if n.Location != nil {
		lat = &n.Location.Lat
		lng = &n.Location.Lng
	}

	_, err := r.db.Exec(
		ctx,
		query,
		n.ID,
		n.Address,
		n.Port,
		lat,
		lng,
		string(n.Type),
		n.BandwidthUp,
		n.BandwidthDown,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}

	return nil
}

// GetByID retrieves a node by its UUID
func (r *NodeRepository) GetByID(ctx context.Context, id string) (*models.StorageNode, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE uuid = $1`

	n, err := scanNode(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	return n, nil
}

// ListAll retrieves every known node
func (r *NodeRepository) ListAll(ctx context.Context) ([]*models.StorageNode, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes ORDER BY uuid`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.StorageNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, n)
	}

	return nodes, rows.Err()
}

// Delete removes a node row
func (r *NodeRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM nodes WHERE uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}

	return nil
}

// DeleteAll clears the node table
func (r *NodeRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `DELETE FROM nodes`)
	if err != nil {
		return fmt.Errorf("failed to clear nodes: %w", err)
	}

	return nil
}

func scanNode(row pgx.Row) (*models.StorageNode, error) {
	n := &models.StorageNode{}
	var lat, lng *float64
	var nodeType string

	err := row.Scan(
		&n.ID,
		&n.Address,
		&n.Port,
		&lat,
		&lng,
		&nodeType,
		&n.BandwidthUp,
		&n.BandwidthDown,
	)
	if err != nil {
		return nil, err
	}

	n.Type = models.ParseNodeType(nodeType)
	if lat != nil && lng != nil {
		n.Location = &models.LatLng{Lat: *lat, Lng: *lng}
	}

	return n, nil
}
