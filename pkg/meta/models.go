package meta

import (
	"time"

	"gorm.io/datatypes"
)

// ManifestModel 是 core.Manifest 在关系型数据库中的存储形式
// (Name, Tag) 是联合主键；Raw 保存规范编码，读取时原样解码，保证 ID 不变
type ManifestModel struct {
	Name string `gorm:"primaryKey;type:varchar(512)"`
	Tag  string `gorm:"primaryKey;type:varchar(255)"`

	// Root 指向根 Tree，建索引方便反查"哪些 Manifest 用到了这棵树"
	Root string `gorm:"type:char(64);not null;index"`

	// Labels 冗余一份 JSON，支持按标签查询
	Labels datatypes.JSON

	Raw []byte `gorm:"not null"`

	CreatedAt time.Time
}

// TableName 强制指定表名
func (ManifestModel) TableName() string {
	return "manifests"
}
