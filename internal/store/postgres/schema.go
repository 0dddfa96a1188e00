package postgres

import (
	"context"
	"fmt"
)

// The trigger publishes every row change as the JSON form of
// types.ChangeEvent.
var triggerStatements = []string{
	`CREATE OR REPLACE FUNCTION notify_players_change() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
    'type', TG_OP,
    'new', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END,
    'old', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END
  )::text);
  RETURN NULL;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS players_notify ON players`,
	`CREATE TRIGGER players_notify AFTER INSERT OR UPDATE OR DELETE ON players
  FOR EACH ROW EXECUTE FUNCTION notify_players_change()`,
}

// Migrate creates the players table and its change trigger. Hosted
// deployments usually already have both.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&playerRow{}); err != nil {
		return fmt.Errorf("migrate players: %w", err)
	}
	for _, stmt := range triggerStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("install change trigger: %w", err)
		}
	}
	return nil
}
