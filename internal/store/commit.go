package store

import (
	"database/sql"
	"fmt"
	"time"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// CommitFacts replaces everything previously stored for facts.File.Path
// with the given facts, within a single transaction. The file row keeps
// its path but receives a fresh ID; the new ID is returned.
//
// Insert order respects FK dependencies:
//  1. File
//  2. Imports (file_id)
//  3. Declarations (file_id), then their directives (decl_id)
//  4. Methods (file_id)
func (s *Store) CommitFacts(facts *FileFacts) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("commit facts: begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM directives WHERE decl_id IN (SELECT d.id FROM declarations d JOIN files f ON f.id = d.file_id WHERE f.path = ?)",
		"DELETE FROM declarations WHERE file_id IN (SELECT id FROM files WHERE path = ?)",
		"DELETE FROM methods WHERE file_id IN (SELECT id FROM files WHERE path = ?)",
		"DELETE FROM imports WHERE file_id IN (SELECT id FROM files WHERE path = ?)",
		"DELETE FROM files WHERE path = ?",
	} {
		if _, err := tx.Exec(q, facts.File.Path); err != nil {
			return 0, fmt.Errorf("commit facts: clear %s: %w", facts.File.Path, err)
		}
	}

	f := facts.File
	if f.LastIndexed.IsZero() {
		f.LastIndexed = time.Now().UTC()
	}
	fileID, err := insertFileTx(tx, &f)
	if err != nil {
		return 0, fmt.Errorf("commit facts: file %q: %w", f.Path, err)
	}

	for _, imp := range facts.Imports {
		imp.FileID = fileID
		if _, err := insertImportTx(tx, &imp); err != nil {
			return 0, fmt.Errorf("commit facts: import %q: %w", imp.Path, err)
		}
	}

	for _, d := range facts.Declarations {
		d.FileID = fileID
		if _, err := insertDeclarationTx(tx, &d); err != nil {
			return 0, fmt.Errorf("commit facts: declaration %q: %w", d.Name, err)
		}
	}

	for _, m := range facts.Methods {
		m.FileID = fileID
		if _, err := insertMethodTx(tx, &m); err != nil {
			return 0, fmt.Errorf("commit facts: method %s.%s: %w", m.Receiver, m.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit facts: %w", err)
	}
	return fileID, nil
}

func insertFileTx(ex execer, f *File) (int64, error) {
	res, err := ex.Exec(
		`INSERT INTO files (path, dir, package, import_path, hash, last_indexed) VALUES (?, ?, ?, ?, ?, ?)`,
		f.Path, f.Dir, f.Package, f.ImportPath, f.Hash, f.LastIndexed,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func insertImportTx(ex execer, imp *Import) (int64, error) {
	res, err := ex.Exec(
		`INSERT INTO imports (file_id, path, alias) VALUES (?, ?, ?)`,
		imp.FileID, imp.Path, imp.Alias,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// insertDeclarationTx writes the declaration row and its directives.
func insertDeclarationTx(tx *sql.Tx, d *Declaration) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO declarations (file_id, name, kind, type_params, fields, shape, line, col)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.FileID, d.Name, d.Kind,
		marshalJSON(d.TypeParams), marshalJSON(d.Fields), marshalJSON(d.Shape),
		d.Line, d.Col,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, dir := range d.Directives {
		if _, err := tx.Exec(
			`INSERT INTO directives (decl_id, text, line) VALUES (?, ?, ?)`,
			id, dir.Text, dir.Line,
		); err != nil {
			return 0, fmt.Errorf("directive at line %d: %w", dir.Line, err)
		}
	}
	return id, nil
}

func insertMethodTx(ex execer, m *Method) (int64, error) {
	res, err := ex.Exec(
		`INSERT INTO methods (file_id, receiver, pointer_receiver, name, params, results, line)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.FileID, m.Receiver, m.PointerReceiver, m.Name,
		marshalJSON(m.Params), marshalJSON(m.Results), m.Line,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
