package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"hive/pkg/core"
	"hive/pkg/manifest"
	"hive/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository 用 SQL 数据库实现 manifest.Database
type Repository struct {
	db *DB
}

var _ manifest.Database = (*Repository)(nil)

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return r.db.GetConn().WithContext(ctx)
}

func (r *Repository) Has(ctx context.Context, key core.ManifestKey) (bool, error) {
	var count int64
	err := r.conn(ctx).Model(&ManifestModel{}).
		Where("name = ? AND tag = ?", key.Name, key.Tag).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) Get(ctx context.Context, key core.ManifestKey) (*core.Manifest, error) {
	var model ManifestModel
	err := r.conn(ctx).
		Where("name = ? AND tag = ?", key.Name, key.Tag).
		First(&model).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", manifest.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	m, err := core.DecodeManifest(model.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", key, err)
	}
	return m, nil
}

// escapeLike 转义 LIKE 的通配符
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (r *Repository) List(ctx context.Context, prefix string) ([]core.ManifestKey, error) {
	q := r.conn(ctx).Model(&ManifestModel{})
	if p := strings.TrimSuffix(prefix, "/"); p != "" {
		q = q.Where(`name = ? OR name LIKE ? ESCAPE '\'`, p, escapeLike(p)+"/%")
	}
	return r.keys(q)
}

func (r *Repository) ListForName(ctx context.Context, name string) ([]core.ManifestKey, error) {
	return r.keys(r.conn(ctx).Model(&ManifestModel{}).Where("name = ?", name))
}

// keys 只查 Key 两列；排序放在 Go 里做，不依赖数据库的 collation
func (r *Repository) keys(q *gorm.DB) ([]core.ManifestKey, error) {
	var rows []ManifestModel
	if err := q.Select("name", "tag").Find(&rows).Error; err != nil {
		return nil, err
	}
	keys := make([]core.ManifestKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, core.NewManifestKey(row.Name, row.Tag))
	}
	return core.SortKeys(keys), nil
}

func isDuplicate(err error) bool {
	// 兼容性：不同数据库 (PG 与 SQLite) 的唯一约束错误
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}

func (r *Repository) Add(ctx context.Context, m *core.Manifest, opts manifest.AddOptions) error {
	if err := m.Key.Validate(); err != nil {
		return err
	}
	labels, err := json.Marshal(m.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	model := ManifestModel{
		Name:   m.Key.Name,
		Tag:    m.Key.Tag,
		Root:   string(m.RootID()),
		Labels: datatypes.JSON(labels),
		Raw:    m.Bytes(),
	}

	q := r.conn(ctx)
	if opts.Overwrite {
		q = q.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}, {Name: "tag"}},
			DoUpdates: clause.AssignmentColumns([]string{"root", "labels", "raw"}),
		})
	}
	if err := q.Create(&model).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: %s", manifest.ErrExists, m.Key)
		}
		return fmt.Errorf("failed to insert manifest %s: %w", m.Key, err)
	}

	if opts.Audit {
		manifest.LogAudit(m)
	}
	return nil
}

func (r *Repository) Remove(ctx context.Context, key core.ManifestKey) error {
	res := r.conn(ctx).
		Where("name = ? AND tag = ?", key.Name, key.Tag).
		Delete(&ManifestModel{})
	if res.Error != nil {
		return fmt.Errorf("failed to remove manifest %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", manifest.ErrNotFound, key)
	}
	return nil
}

// -----------------------------------------------------------------------------
// SQL 独有的查询能力
// -----------------------------------------------------------------------------

// FindByLabel 查找某个标签等于 value 的所有 Manifest
func (r *Repository) FindByLabel(ctx context.Context, label, value string) ([]core.ManifestKey, error) {
	q := r.conn(ctx).Model(&ManifestModel{}).
		Where(datatypes.JSONQuery("labels").Equals(value, label))
	return r.keys(q)
}

// FindByRoot 反查引用了某棵根 Tree 的所有 Manifest
func (r *Repository) FindByRoot(ctx context.Context, root types.ObjectID) ([]core.ManifestKey, error) {
	return r.keys(r.conn(ctx).Model(&ManifestModel{}).Where("root = ?", string(root)))
}
