package store

import (
	"database/sql"
	"fmt"
)

// --- File operations ---

func (s *Store) InsertFile(f *File) (int64, error) {
	id, err := insertFileTx(s.db, f)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	f.ID = id
	return id, nil
}

const fileCols = `id, path, dir, package, import_path, hash, last_indexed`

func scanFile(scanner interface{ Scan(...any) error }) (*File, error) {
	f := &File{}
	var importPath sql.NullString
	if err := scanner.Scan(&f.ID, &f.Path, &f.Dir, &f.Package, &importPath, &f.Hash, &f.LastIndexed); err != nil {
		return nil, err
	}
	f.ImportPath = importPath.String
	return f, nil
}

func (s *Store) FileByPath(path string) (*File, error) {
	f, err := scanFile(s.db.QueryRow("SELECT "+fileCols+" FROM files WHERE path = ?", path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	return f, nil
}

func (s *Store) FileByID(id int64) (*File, error) {
	f, err := scanFile(s.db.QueryRow("SELECT "+fileCols+" FROM files WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by id: %w", err)
	}
	return f, nil
}

func (s *Store) queryFiles(query string, args ...any) ([]*File, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// AllFiles returns every indexed file ordered by path.
func (s *Store) AllFiles() ([]*File, error) {
	return s.queryFiles("SELECT " + fileCols + " FROM files ORDER BY path")
}

// FilesByDir returns the files of one package directory ordered by path.
func (s *Store) FilesByDir(dir string) ([]*File, error) {
	return s.queryFiles("SELECT "+fileCols+" FROM files WHERE dir = ? ORDER BY path", dir)
}

// --- Import operations ---

func (s *Store) ImportsByFile(fileID int64) ([]*Import, error) {
	rows, err := s.db.Query("SELECT id, file_id, path, alias FROM imports WHERE file_id = ? ORDER BY id", fileID)
	if err != nil {
		return nil, fmt.Errorf("imports by file: %w", err)
	}
	defer rows.Close()
	var imports []*Import
	for rows.Next() {
		imp := &Import{}
		var alias sql.NullString
		if err := rows.Scan(&imp.ID, &imp.FileID, &imp.Path, &alias); err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		imp.Alias = alias.String
		imports = append(imports, imp)
	}
	return imports, rows.Err()
}

// --- Declaration operations ---

const declCols = `id, file_id, name, kind, type_params, fields, shape, line, col`

func (s *Store) queryDeclarations(query string, args ...any) ([]*Declaration, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	var decls []*Declaration
	for rows.Next() {
		d := &Declaration{}
		var typeParams, fields, shape sql.NullString
		if err := rows.Scan(&d.ID, &d.FileID, &d.Name, &d.Kind, &typeParams, &fields, &shape, &d.Line, &d.Col); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan declaration: %w", err)
		}
		unmarshalJSON(typeParams.String, &d.TypeParams)
		unmarshalJSON(fields.String, &d.Fields)
		unmarshalJSON(shape.String, &d.Shape)
		decls = append(decls, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, d := range decls {
		dirs, err := s.DirectivesByDecl(d.ID)
		if err != nil {
			return nil, err
		}
		d.Directives = dirs
	}
	return decls, nil
}

func (s *Store) DeclarationsByFile(fileID int64) ([]*Declaration, error) {
	return s.queryDeclarations("SELECT "+declCols+" FROM declarations WHERE file_id = ? ORDER BY line", fileID)
}

func (s *Store) DeclarationsByName(name string) ([]*Declaration, error) {
	return s.queryDeclarations("SELECT "+declCols+" FROM declarations WHERE name = ? ORDER BY file_id, line", name)
}

func (s *Store) DirectivesByDecl(declID int64) ([]Directive, error) {
	rows, err := s.db.Query("SELECT id, decl_id, text, line FROM directives WHERE decl_id = ? ORDER BY line", declID)
	if err != nil {
		return nil, fmt.Errorf("directives by declaration: %w", err)
	}
	defer rows.Close()
	var dirs []Directive
	for rows.Next() {
		var d Directive
		if err := rows.Scan(&d.ID, &d.DeclID, &d.Text, &d.Line); err != nil {
			return nil, fmt.Errorf("scan directive: %w", err)
		}
		dirs = append(dirs, d)
	}
	return dirs, rows.Err()
}

// --- Method operations ---

const methodCols = `id, file_id, receiver, pointer_receiver, name, params, results, line`

func (s *Store) queryMethods(query string, args ...any) ([]*Method, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var methods []*Method
	for rows.Next() {
		m := &Method{}
		var params, results sql.NullString
		if err := rows.Scan(&m.ID, &m.FileID, &m.Receiver, &m.PointerReceiver, &m.Name, &params, &results, &m.Line); err != nil {
			return nil, fmt.Errorf("scan method: %w", err)
		}
		unmarshalJSON(params.String, &m.Params)
		unmarshalJSON(results.String, &m.Results)
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

func (s *Store) MethodsByFile(fileID int64) ([]*Method, error) {
	return s.queryMethods("SELECT "+methodCols+" FROM methods WHERE file_id = ? ORDER BY line", fileID)
}

// MethodsByReceiver returns the hand-written methods declared on a type
// in one package directory.
func (s *Store) MethodsByReceiver(dir, receiver string) ([]*Method, error) {
	return s.queryMethods(
		`SELECT m.id, m.file_id, m.receiver, m.pointer_receiver, m.name, m.params, m.results, m.line
		 FROM methods m JOIN files f ON f.id = m.file_id
		 WHERE f.dir = ? AND m.receiver = ? ORDER BY m.name`,
		dir, receiver,
	)
}

// LoadFacts reads back every indexed file with its imports, declarations
// and methods, ordered by path.
func (s *Store) LoadFacts() ([]*FileFacts, error) {
	files, err := s.AllFiles()
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	var out []*FileFacts
	for _, f := range files {
		facts := &FileFacts{File: *f}
		imports, err := s.ImportsByFile(f.ID)
		if err != nil {
			return nil, err
		}
		for _, imp := range imports {
			facts.Imports = append(facts.Imports, *imp)
		}
		decls, err := s.DeclarationsByFile(f.ID)
		if err != nil {
			return nil, err
		}
		for _, d := range decls {
			facts.Declarations = append(facts.Declarations, *d)
		}
		methods, err := s.MethodsByFile(f.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range methods {
			facts.Methods = append(facts.Methods, *m)
		}
		out = append(out, facts)
	}
	return out, nil
}
