package perm

import (
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestGormProvider(t *testing.T) {
	convey.Convey("数据库授权提供者", t, func() {
		convey.Convey("缺少配置报错", func() {
			_, err := NewGormProviderWithOptions(nil)
			convey.So(err, convey.ShouldNotBeNil)

			_, err = NewGormProviderWithOptions(&GormProviderOptions{Driver: "sqlite"})
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("加载并反序列化授权行", func() {
			p, err := NewGormProviderWithOptions(&GormProviderOptions{Driver: "sqlite", DSN: ":memory:"})
			convey.So(err, convey.ShouldBeNil)
			defer p.Close()

			rule := &PermissionRule{
				Role:       "viewer",
				Collection: "posts",
				Action:     "read",
				Fields:     `["id", "title"]`,
				Conditions: `{"status": {"eq": "published"}}`,
				Defaults:   `{"status": "draft"}`,
			}
			convey.So(p.db.Create(rule).Error, convey.ShouldBeNil)

			perms, err := p.Load("viewer")
			convey.So(err, convey.ShouldBeNil)
			convey.So(perms, convey.ShouldHaveLength, 1)
			convey.So(perms[0].Action, convey.ShouldEqual, ActionRead)
			convey.So(perms[0].Fields, convey.ShouldResemble, []string{"id", "title"})
			convey.So(perms[0].Conditions["status"], convey.ShouldResemble, map[string]interface{}{"eq": "published"})
			convey.So(perms[0].Defaults["status"], convey.ShouldEqual, "draft")

			convey.Convey("其他角色看不到这行", func() {
				perms, err := p.Load("editor")
				convey.So(err, convey.ShouldBeNil)
				convey.So(perms, convey.ShouldBeEmpty)
			})

			convey.Convey("非法 JSON 报错", func() {
				bad := &PermissionRule{Role: "broken", Collection: "posts", Action: "read", Fields: `{not json`}
				convey.So(p.db.Create(bad).Error, convey.ShouldBeNil)

				_, err := p.Load("broken")
				convey.So(err, convey.ShouldNotBeNil)
			})

			convey.Convey("轮询发现变更后广播全量失效", func() {
				var changed []string
				p.OnChange(func(role string) {
					changed = append(changed, role)
				})

				p.poll()
				convey.So(changed, convey.ShouldResemble, []string{Wildcard})

				convey.Convey("无变更时不再广播", func() {
					p.poll()
					convey.So(changed, convey.ShouldResemble, []string{Wildcard})
				})
			})
		})
	})
}
