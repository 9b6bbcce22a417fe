package store

import (
	"database/sql"
	"fmt"
)

// ReplaceResolution discards every previously resolved row and writes r in
// a single transaction. Resolution is always recomputed in full, so there
// is no per-file invalidation.
func (s *Store) ReplaceResolution(r *Resolution) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace resolution: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"delegation_entries", "getter_bindings", "slot_bindings", "diagnostics"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("replace resolution: clear %s: %w", table, err)
		}
	}

	for _, e := range r.Entries {
		if _, err := tx.Exec(
			`INSERT INTO delegation_entries (package, context, capability_key, provider, source, instantiation)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.Package, e.Context, e.Key, e.Provider, e.Source, e.Instantiation,
		); err != nil {
			return fmt.Errorf("replace resolution: entry %s.%s: %w", e.Context, e.Key, err)
		}
	}
	for _, g := range r.Getters {
		if _, err := tx.Exec(
			`INSERT INTO getter_bindings (package, context, value_name, type_expr, accessor, kind)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			g.Package, g.Context, g.Value, g.Type, g.Accessor, g.Kind,
		); err != nil {
			return fmt.Errorf("replace resolution: getter %s.%s: %w", g.Context, g.Value, err)
		}
	}
	for _, sb := range r.Slots {
		if _, err := tx.Exec(
			`INSERT INTO slot_bindings (package, context, slot, type_expr, origin) VALUES (?, ?, ?, ?, ?)`,
			sb.Package, sb.Context, sb.Slot, sb.Type, sb.Origin,
		); err != nil {
			return fmt.Errorf("replace resolution: slot %s.%s: %w", sb.Context, sb.Slot, err)
		}
	}
	for _, d := range r.Diagnostics {
		if _, err := tx.Exec(
			`INSERT INTO diagnostics (code, context, subject, message, candidates, hints, file, line, col)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.Code, d.Context, d.Subject, d.Message,
			marshalJSON(d.Candidates), marshalJSON(d.Hints), d.File, d.Line, d.Col,
		); err != nil {
			return fmt.Errorf("replace resolution: diagnostic %s: %w", d.Code, err)
		}
	}
	return tx.Commit()
}

// --- DelegationEntry operations ---

const entryCols = `id, package, context, capability_key, provider, source, instantiation`

func (s *Store) queryEntries(query string, args ...any) ([]*DelegationEntry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*DelegationEntry
	for rows.Next() {
		e := &DelegationEntry{}
		var inst sql.NullString
		if err := rows.Scan(&e.ID, &e.Package, &e.Context, &e.Key, &e.Provider, &e.Source, &inst); err != nil {
			return nil, fmt.Errorf("scan delegation entry: %w", err)
		}
		e.Instantiation = inst.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) AllEntries() ([]*DelegationEntry, error) {
	return s.queryEntries("SELECT " + entryCols + " FROM delegation_entries ORDER BY package, context, capability_key")
}

func (s *Store) EntriesByContext(context string) ([]*DelegationEntry, error) {
	return s.queryEntries(
		"SELECT "+entryCols+" FROM delegation_entries WHERE context = ? ORDER BY capability_key", context,
	)
}

// EntryFor returns the delegation entry for key in context, or nil when
// the context has no entry for it.
func (s *Store) EntryFor(context, key string) (*DelegationEntry, error) {
	entries, err := s.queryEntries(
		"SELECT "+entryCols+" FROM delegation_entries WHERE context = ? AND capability_key = ?", context, key,
	)
	if err != nil {
		return nil, fmt.Errorf("entry for %s.%s: %w", context, key, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// --- GetterBinding operations ---

func (s *Store) GettersByContext(context string) ([]*GetterBinding, error) {
	rows, err := s.db.Query(
		`SELECT id, package, context, value_name, type_expr, accessor, kind
		 FROM getter_bindings WHERE context = ? ORDER BY value_name`, context,
	)
	if err != nil {
		return nil, fmt.Errorf("getters by context: %w", err)
	}
	defer rows.Close()
	var getters []*GetterBinding
	for rows.Next() {
		g := &GetterBinding{}
		var typ, acc, kind sql.NullString
		if err := rows.Scan(&g.ID, &g.Package, &g.Context, &g.Value, &typ, &acc, &kind); err != nil {
			return nil, fmt.Errorf("scan getter binding: %w", err)
		}
		g.Type, g.Accessor, g.Kind = typ.String, acc.String, kind.String
		getters = append(getters, g)
	}
	return getters, rows.Err()
}

// --- SlotBinding operations ---

func (s *Store) SlotsByContext(context string) ([]*SlotBinding, error) {
	rows, err := s.db.Query(
		`SELECT id, package, context, slot, type_expr, origin
		 FROM slot_bindings WHERE context = ? ORDER BY slot`, context,
	)
	if err != nil {
		return nil, fmt.Errorf("slots by context: %w", err)
	}
	defer rows.Close()
	var slots []*SlotBinding
	for rows.Next() {
		sb := &SlotBinding{}
		var origin sql.NullString
		if err := rows.Scan(&sb.ID, &sb.Package, &sb.Context, &sb.Slot, &sb.Type, &origin); err != nil {
			return nil, fmt.Errorf("scan slot binding: %w", err)
		}
		sb.Origin = origin.String
		slots = append(slots, sb)
	}
	return slots, rows.Err()
}

// --- Diagnostic operations ---

func (s *Store) queryDiagnostics(query string, args ...any) ([]*Diagnostic, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var diags []*Diagnostic
	for rows.Next() {
		d := &Diagnostic{}
		var ctx, subject, cands, hints, file sql.NullString
		var line, col sql.NullInt64
		if err := rows.Scan(&d.ID, &d.Code, &ctx, &subject, &d.Message, &cands, &hints, &file, &line, &col); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		d.Context, d.Subject, d.File = ctx.String, subject.String, file.String
		d.Line, d.Col = int(line.Int64), int(col.Int64)
		unmarshalJSON(cands.String, &d.Candidates)
		unmarshalJSON(hints.String, &d.Hints)
		diags = append(diags, d)
	}
	return diags, rows.Err()
}

const diagCols = `id, code, context, subject, message, candidates, hints, file, line, col`

func (s *Store) AllDiagnostics() ([]*Diagnostic, error) {
	return s.queryDiagnostics("SELECT " + diagCols + " FROM diagnostics ORDER BY id")
}

func (s *Store) DiagnosticsByContext(context string) ([]*Diagnostic, error) {
	return s.queryDiagnostics("SELECT "+diagCols+" FROM diagnostics WHERE context = ? ORDER BY id", context)
}

// ContextNames returns the distinct context names that have at least one
// delegation entry or diagnostic, sorted.
func (s *Store) ContextNames() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT context FROM delegation_entries
		 UNION SELECT context FROM getter_bindings
		 UNION SELECT context FROM diagnostics WHERE context IS NOT NULL AND context != ''
		 ORDER BY 1`,
	)
	if err != nil {
		return nil, fmt.Errorf("context names: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
