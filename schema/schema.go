package schema

// FieldType 字段语义类型
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeInteger  FieldType = "integer"
	FieldTypeDecimal  FieldType = "decimal"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeUUID     FieldType = "uuid"
	FieldTypeJSON     FieldType = "json"
	FieldTypeGeometry FieldType = "geometry"
	FieldTypeArray    FieldType = "array"
)

// DefaultValue 字段默认值说明，字面量和生成器二选一
type DefaultValue struct {
	Literal   interface{} `yaml:"literal"`
	Generator string      `yaml:"generator"` // now, uuid, autoincrement
}

// FieldDefinition 字段定义
type FieldDefinition struct {
	Name      string        `yaml:"name"`
	Type      FieldType     `yaml:"type"`
	Elem      FieldType     `yaml:"elem"` // array 元素类型
	Nullable  bool          `yaml:"nullable"`
	Primary   bool          `yaml:"primary"`
	Generated bool          `yaml:"generated"` // 系统生成，客户端不可写
	Default   *DefaultValue `yaml:"default"`
}

// RelationKind 关系类型
type RelationKind string

const (
	RelationBelongsTo  RelationKind = "belongsTo"
	RelationHasOne     RelationKind = "hasOne"
	RelationHasMany    RelationKind = "hasMany"
	RelationManyToMany RelationKind = "manyToMany"
	RelationAnyOf      RelationKind = "anyOf" // 多态：junction + 判别列指向 N 个候选集合之一
)

// RefPolicy 关系的 ON DELETE / ON UPDATE 策略
type RefPolicy string

const (
	RefPolicyCascade  RefPolicy = "cascade"
	RefPolicySetNull  RefPolicy = "setNull"
	RefPolicyRestrict RefPolicy = "restrict"
)

// Relationship 关系定义
type Relationship struct {
	Name string       `yaml:"name"` // 关系别名，条件路径中的段名
	Kind RelationKind `yaml:"kind"`

	// belongsTo / hasOne / hasMany
	Target     string `yaml:"target"`
	ForeignKey string `yaml:"foreignKey"` // belongsTo 为本地外键，hasOne/hasMany 为目标侧外键

	// manyToMany / anyOf
	Junction  string `yaml:"junction"`
	SourceKey string `yaml:"sourceKey"` // junction 中指向本集合的外键
	TargetKey string `yaml:"targetKey"` // junction 中指向目标集合的外键，自引用时带后缀

	// anyOf
	Discriminator string   `yaml:"discriminator"` // junction 中记录目标集合名的列
	ItemKey       string   `yaml:"itemKey"`       // junction 中无外键约束的目标 ID 列
	Targets       []string `yaml:"targets"`       // 候选目标集合

	Inverse  string    `yaml:"inverse"` // 对端字段名
	OnDelete RefPolicy `yaml:"onDelete"`
	OnUpdate RefPolicy `yaml:"onUpdate"`
	Required bool      `yaml:"required"` // false 时连接使用 LEFT JOIN
}

// ToMany 关系是否为一对多形态，决定连接策略
func (r *Relationship) ToMany() bool {
	switch r.Kind {
	case RelationHasMany, RelationManyToMany, RelationAnyOf:
		return true
	default:
		return false
	}
}

// Index 索引定义
type Index struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
	Unique bool     `yaml:"unique"`
}

// Collection 集合定义，对查询引擎只读
type Collection struct {
	Name          string
	Fields        []*FieldDefinition // 保持声明顺序
	Relationships map[string]*Relationship

	SoftDelete bool // 读路径隐式过滤 deleted_at IS NULL
	Timestamps bool // 写路径维护 created_at / updated_at
	TrackUsers bool // 写路径维护 created_by / updated_by
	Sortable   bool // 维护 sort 排序列

	Indexes []Index

	fieldIndex map[string]*FieldDefinition
	primary    *FieldDefinition
}

// Field 按名查找字段
func (c *Collection) Field(name string) (*FieldDefinition, bool) {
	f, ok := c.fieldIndex[name]
	return f, ok
}

// PrimaryKey 返回主键字段
func (c *Collection) PrimaryKey() *FieldDefinition {
	return c.primary
}

// Relationship 按别名查找关系
func (c *Collection) Relationship(name string) (*Relationship, bool) {
	r, ok := c.Relationships[name]
	return r, ok
}

func (c *Collection) buildIndex() {
	c.fieldIndex = make(map[string]*FieldDefinition, len(c.Fields))
	for _, f := range c.Fields {
		c.fieldIndex[f.Name] = f
		if f.Primary {
			c.primary = f
		}
	}
	if c.Relationships == nil {
		c.Relationships = map[string]*Relationship{}
	}
}
