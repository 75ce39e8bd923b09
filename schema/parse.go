package schema

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Document 模式文档，外部模式管理器产出的序列化形式
type Document struct {
	Version     int64                 `yaml:"version"`
	Collections []*CollectionDocument `yaml:"collections"`
}

// CollectionDocument 集合的文档形式
type CollectionDocument struct {
	Name          string             `yaml:"name"`
	Fields        []*FieldDefinition `yaml:"fields"`
	Relationships []*Relationship    `yaml:"relationships"`
	SoftDelete    bool               `yaml:"softDelete"`
	Timestamps    bool               `yaml:"timestamps"`
	TrackUsers    bool               `yaml:"trackUsers"`
	Sortable      bool               `yaml:"sortable"`
	Indexes       []Index            `yaml:"indexes"`
}

// ParseSnapshot 解析 YAML 模式文档为快照
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse schema document")
	}
	return BuildSnapshot(&doc)
}

// BuildSnapshot 从模式文档构建快照
func BuildSnapshot(doc *Document) (*Snapshot, error) {
	collections := make([]*Collection, 0, len(doc.Collections))
	for _, cd := range doc.Collections {
		if cd.Name == "" {
			return nil, errors.New("collection name is required")
		}

		relationships := make(map[string]*Relationship, len(cd.Relationships))
		for _, r := range cd.Relationships {
			if r.Name == "" {
				return nil, errors.Errorf("collection %s: relationship name is required", cd.Name)
			}
			if _, ok := relationships[r.Name]; ok {
				return nil, errors.Errorf("collection %s: duplicate relationship %s", cd.Name, r.Name)
			}
			relationships[r.Name] = r
		}

		collections = append(collections, &Collection{
			Name:          cd.Name,
			Fields:        cd.Fields,
			Relationships: relationships,
			SoftDelete:    cd.SoftDelete,
			Timestamps:    cd.Timestamps,
			TrackUsers:    cd.TrackUsers,
			Sortable:      cd.Sortable,
			Indexes:       cd.Indexes,
		})
	}
	return NewSnapshot(doc.Version, collections)
}
