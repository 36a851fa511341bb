package pg

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/beaconworks/agentrelay/internal/store"
)

// PGIdentityStore reads users and access rules from tables owned by the
// identity subsystem. The engine never writes to them.
type PGIdentityStore struct {
	db *sql.DB
}

func NewPGIdentityStore(db *sql.DB) *PGIdentityStore {
	return &PGIdentityStore{db: db}
}

func (s *PGIdentityStore) UserByEmail(ctx context.Context, orgID uuid.UUID, email string) (*store.UserRecord, error) {
	var u store.UserRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT u.id, u.email, u.name
		 FROM users u
		 JOIN org_members m ON m.user_id = u.id
		 WHERE m.organization_id = $1 AND LOWER(u.email) = LOWER($2)`,
		orgID, email).Scan(&u.ID, &u.Email, &u.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PGIdentityStore) IsAgentAdmin(ctx context.Context, userID, orgID uuid.UUID) (bool, error) {
	var admin bool
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_admin FROM org_members
		 WHERE user_id = $1 AND organization_id = $2`,
		userID, orgID).Scan(&admin)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return admin, nil
}

func (s *PGIdentityStore) HasAgentAccess(ctx context.Context, userID, agentID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1
		   FROM agent_team_members atm
		   JOIN team_members tm ON tm.team_id = atm.team_id
		   WHERE atm.agent_id = $1 AND tm.user_id = $2
		 )`,
		agentID, userID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// PGAgentStore reads agent definitions owned by the administration subsystem.
type PGAgentStore struct {
	db *sql.DB
}

func NewPGAgentStore(db *sql.DB) *PGAgentStore {
	return &PGAgentStore{db: db}
}

func (s *PGAgentStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]store.AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organization_id, name FROM agents
		 WHERE organization_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []store.AgentRecord
	for rows.Next() {
		var a store.AgentRecord
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.Name); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *PGAgentStore) GetByID(ctx context.Context, id uuid.UUID) (*store.AgentRecord, error) {
	var a store.AgentRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name FROM agents WHERE id = $1`, id).Scan(
		&a.ID, &a.OrganizationID, &a.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
