// Package migration はembedされたSQLファイルによるスキーマ管理を提供する。
// 適用済みバージョンをschema_migrationsテーブルで追跡し、
// サービス起動時に未適用のマイグレーションだけを順番に実行する。
package migration

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strconv"
	"strings"
)

// upSuffix はマイグレーションファイルの拡張子。
// ファイル名形式: 000001_create_app_notifications.up.sql
const upSuffix = ".up.sql"

// step は1つのマイグレーションファイルを表す。
type step struct {
	// version はファイル名先頭の連番。適用順序を決める。
	version int
	// name はファイル名の説明部分。ログ出力にのみ使用する。
	name string
	// path はembed.FS内のファイルパス。
	path string
}

// Run はdir以下のマイグレーションをバージョン順に適用する。
// 各ステップはトランザクション内で実行され、途中で失敗した場合は
// そのステップ以降を未適用のまま残す。冪等に呼び出せる。
func Run(db *sql.DB, fsys fs.FS, dir string) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	steps, err := loadSteps(fsys, dir)
	if err != nil {
		return fmt.Errorf("マイグレーションファイルの読み込みに失敗: %w", err)
	}

	for _, s := range steps {
		done, err := isApplied(db, s.version)
		if err != nil {
			return fmt.Errorf("適用状態の確認に失敗: %w", err)
		}
		if done {
			continue
		}

		if err := apply(db, fsys, s); err != nil {
			return fmt.Errorf("マイグレーション %06d_%s の適用に失敗: %w", s.version, s.name, err)
		}
		log.Printf("[Migration] %06d_%s を適用しました", s.version, s.name)
	}
	return nil
}

// loadSteps はディレクトリからマイグレーションファイルを収集し、バージョン順に返す。
// 命名規約に合わないファイルは無視する。
func loadSteps(fsys fs.FS, dir string) ([]step, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	steps := make([]step, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), upSuffix) {
			continue
		}

		prefix, name, found := strings.Cut(entry.Name(), "_")
		if !found {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}

		steps = append(steps, step{
			version: version,
			name:    strings.TrimSuffix(name, upSuffix),
			path:    dir + "/" + entry.Name(),
		})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

// isApplied は指定バージョンが適用済みかどうかを返す。
func isApplied(db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
	return count > 0, err
}

// apply は1つのマイグレーションをトランザクション内で実行し、バージョンを記録する。
func apply(db *sql.DB, fsys fs.FS, s step) error {
	content, err := fs.ReadFile(fsys, s.path)
	if err != nil {
		return fmt.Errorf("ファイル読み込みに失敗: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("SQL実行に失敗: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", s.version); err != nil {
		return fmt.Errorf("バージョン記録に失敗: %w", err)
	}
	return tx.Commit()
}
