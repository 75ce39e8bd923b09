package schema

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/relx/errs"
)

const schemaTestDoc = `
version: 3
collections:
  - name: users
    trackUsers: true
    fields:
      - { name: id, type: integer, primary: true }
      - { name: name, type: string }
      - { name: company_id, type: integer, nullable: true }
    relationships:
      - { name: company, kind: belongsTo, target: companies, foreignKey: company_id }
  - name: companies
    fields:
      - { name: id, type: integer, primary: true }
      - { name: name, type: string }
    relationships:
      - { name: employees, kind: hasMany, target: users, foreignKey: company_id, onDelete: setNull }
  - name: posts
    softDelete: true
    timestamps: true
    fields:
      - { name: id, type: uuid, primary: true, default: { generator: uuid } }
      - { name: title, type: string }
      - { name: status, type: string, default: { literal: draft } }
    relationships:
      - { name: tags, kind: manyToMany, target: tags, junction: post_tags, sourceKey: post_id, targetKey: tag_id }
      - name: items
        kind: anyOf
        junction: post_items
        sourceKey: post_id
        discriminator: item_type
        itemKey: item_id
        targets: [images]
  - name: tags
    fields:
      - { name: id, type: integer, primary: true }
      - { name: name, type: string }
  - name: post_tags
    fields:
      - { name: id, type: integer, primary: true }
      - { name: post_id, type: uuid }
      - { name: tag_id, type: integer }
  - name: post_items
    fields:
      - { name: id, type: integer, primary: true }
      - { name: post_id, type: uuid }
      - { name: item_type, type: string }
      - { name: item_id, type: integer }
  - name: images
    fields:
      - { name: id, type: integer, primary: true }
      - { name: url, type: string }
`

func TestParseSnapshot(t *testing.T) {
	convey.Convey("解析模式文档", t, func() {
		snapshot, err := ParseSnapshot([]byte(schemaTestDoc))
		convey.So(err, convey.ShouldBeNil)
		convey.So(snapshot.Version(), convey.ShouldEqual, 3)

		convey.Convey("集合按名查找，未知集合返回 NotFound", func() {
			users, err := snapshot.Collection("users")
			convey.So(err, convey.ShouldBeNil)
			convey.So(users.Name, convey.ShouldEqual, "users")
			convey.So(users.TrackUsers, convey.ShouldBeTrue)

			_, err = snapshot.Collection("nosuch")
			convey.So(errs.KindOf(err), convey.ShouldEqual, errs.KindNotFound)

			convey.So(snapshot.Collections(), convey.ShouldHaveLength, 7)
		})

		convey.Convey("字段与主键索引", func() {
			posts, _ := snapshot.Collection("posts")
			convey.So(posts.SoftDelete, convey.ShouldBeTrue)
			convey.So(posts.Timestamps, convey.ShouldBeTrue)
			convey.So(posts.PrimaryKey().Name, convey.ShouldEqual, "id")
			convey.So(posts.PrimaryKey().Type, convey.ShouldEqual, FieldTypeUUID)
			convey.So(posts.PrimaryKey().Default.Generator, convey.ShouldEqual, "uuid")

			status, ok := posts.Field("status")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(status.Default.Literal, convey.ShouldEqual, "draft")

			_, ok = posts.Field("nosuch")
			convey.So(ok, convey.ShouldBeFalse)
		})

		convey.Convey("关系按别名查找，一对多形态判定", func() {
			users, _ := snapshot.Collection("users")
			company, ok := users.Relationship("company")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(company.Kind, convey.ShouldEqual, RelationBelongsTo)
			convey.So(company.ToMany(), convey.ShouldBeFalse)

			companies, _ := snapshot.Collection("companies")
			employees, _ := companies.Relationship("employees")
			convey.So(employees.ToMany(), convey.ShouldBeTrue)
			convey.So(employees.OnDelete, convey.ShouldEqual, RefPolicySetNull)

			posts, _ := snapshot.Collection("posts")
			items, _ := posts.Relationship("items")
			convey.So(items.Kind, convey.ShouldEqual, RelationAnyOf)
			convey.So(items.Targets, convey.ShouldResemble, []string{"images"})
		})

		convey.Convey("非法 YAML 报错", func() {
			_, err := ParseSnapshot([]byte("collections: {broken"))
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestSnapshotValidation(t *testing.T) {
	convey.Convey("快照构建校验关系完整性", t, func() {
		parse := func(doc string) error {
			_, err := ParseSnapshot([]byte(doc))
			return err
		}

		convey.Convey("集合必须有主键", func() {
			err := parse(`
collections:
  - name: users
    fields:
      - { name: name, type: string }
`)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "no primary key")
		})

		convey.Convey("belongsTo 的目标与外键必须存在", func() {
			err := parse(`
collections:
  - name: users
    fields:
      - { name: id, type: integer, primary: true }
    relationships:
      - { name: company, kind: belongsTo, target: companies, foreignKey: company_id }
`)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "unknown target")
		})

		convey.Convey("hasMany 的外键必须在目标侧", func() {
			err := parse(`
collections:
  - name: companies
    fields:
      - { name: id, type: integer, primary: true }
    relationships:
      - { name: employees, kind: hasMany, target: users, foreignKey: company_id }
  - name: users
    fields:
      - { name: id, type: integer, primary: true }
`)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "has no field company_id")
		})

		convey.Convey("anyOf 至少要有一个目标集合", func() {
			err := parse(`
collections:
  - name: posts
    fields:
      - { name: id, type: integer, primary: true }
    relationships:
      - name: items
        kind: anyOf
        junction: post_items
        sourceKey: post_id
        discriminator: item_type
        itemKey: item_id
  - name: post_items
    fields:
      - { name: id, type: integer, primary: true }
      - { name: post_id, type: integer }
      - { name: item_type, type: string }
      - { name: item_id, type: integer }
`)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "at least one target")
		})

		convey.Convey("未知关系类型报错", func() {
			err := parse(`
collections:
  - name: users
    fields:
      - { name: id, type: integer, primary: true }
    relationships:
      - { name: other, kind: nosuch, target: users, foreignKey: id }
`)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "unknown kind")
		})

		convey.Convey("重复关系别名报错", func() {
			err := parse(`
collections:
  - name: users
    fields:
      - { name: id, type: integer, primary: true }
      - { name: boss_id, type: integer, nullable: true }
    relationships:
      - { name: boss, kind: belongsTo, target: users, foreignKey: boss_id }
      - { name: boss, kind: belongsTo, target: users, foreignKey: boss_id }
`)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "duplicate relationship")
		})
	})
}

func TestRegistry(t *testing.T) {
	convey.Convey("注册表持有快照并广播变更", t, func() {
		snapshot, err := ParseSnapshot([]byte(schemaTestDoc))
		convey.So(err, convey.ShouldBeNil)
		registry := NewRegistry(snapshot)

		convey.Convey("读当前快照", func() {
			convey.So(registry.Snapshot().Version(), convey.ShouldEqual, 3)
			users, err := registry.Collection("users")
			convey.So(err, convey.ShouldBeNil)
			convey.So(users.Name, convey.ShouldEqual, "users")
		})

		convey.Convey("NotifyChange 广播单集合变更", func() {
			var changed []string
			registry.OnChange(func(collection string) {
				changed = append(changed, collection)
			})

			registry.NotifyChange("users")
			convey.So(changed, convey.ShouldResemble, []string{"users"})
		})

		convey.Convey("Replace 整体替换并广播全量变更", func() {
			var changed []string
			registry.OnChange(func(collection string) {
				changed = append(changed, collection)
			})

			next, err := ParseSnapshot([]byte(`
version: 4
collections:
  - name: users
    fields:
      - { name: id, type: integer, primary: true }
`))
			convey.So(err, convey.ShouldBeNil)

			registry.Replace(next)
			convey.So(registry.Snapshot().Version(), convey.ShouldEqual, 4)
			convey.So(changed, convey.ShouldResemble, []string{ChangeAll})
		})
	})
}

func TestFileProvider(t *testing.T) {
	convey.Convey("文件模式提供者", t, func() {
		convey.Convey("缺少路径报错", func() {
			_, err := NewFileProviderWithOptions(nil)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("加载并解析模式文件", func() {
			path := filepath.Join(t.TempDir(), "schema.yaml")
			convey.So(os.WriteFile(path, []byte(schemaTestDoc), 0o644), convey.ShouldBeNil)

			p, err := NewFileProviderWithOptions(&FileProviderOptions{FilePath: path})
			convey.So(err, convey.ShouldBeNil)
			defer p.Close()

			snapshot, err := p.Load()
			convey.So(err, convey.ShouldBeNil)
			convey.So(snapshot.Version(), convey.ShouldEqual, 3)
		})

		convey.Convey("不存在的文件加载失败", func() {
			p, err := NewFileProviderWithOptions(&FileProviderOptions{FilePath: filepath.Join(t.TempDir(), "missing.yaml")})
			convey.So(err, convey.ShouldBeNil)
			defer p.Close()

			_, err = p.Load()
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("文件变更后注册表快照被整体替换", func() {
			path := filepath.Join(t.TempDir(), "schema.yaml")
			convey.So(os.WriteFile(path, []byte(schemaTestDoc), 0o644), convey.ShouldBeNil)

			p, err := NewFileProviderWithOptions(&FileProviderOptions{FilePath: path})
			convey.So(err, convey.ShouldBeNil)
			defer p.Close()

			snapshot, err := p.Load()
			convey.So(err, convey.ShouldBeNil)
			registry := NewRegistry(snapshot)
			p.Bind(registry)
			convey.So(p.Watch(), convey.ShouldBeNil)

			next := `
version: 5
collections:
  - name: users
    fields:
      - { name: id, type: integer, primary: true }
`
			convey.So(os.WriteFile(path, []byte(next), 0o644), convey.ShouldBeNil)

			replaced := false
			for i := 0; i < 100; i++ {
				if registry.Snapshot().Version() == 5 {
					replaced = true
					break
				}
				time.Sleep(20 * time.Millisecond)
			}
			convey.So(replaced, convey.ShouldBeTrue)
		})
	})
}
