package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/relx/schema"
)

type testResult struct {
	Total int64               `msgpack:"total"`
	Names []string            `msgpack:"names"`
	Attrs map[string]string   `msgpack:"attrs"`
	Rows  []map[string]string `msgpack:"rows"`
}

func TestCoordinatorKey(t *testing.T) {
	convey.Convey("缓存键包含集合、租户、签名摘要与版本向量", t, func() {
		c, err := NewCoordinatorWithOptions[testResult](nil)
		convey.So(err, convey.ShouldBeNil)
		defer c.Close()

		key := c.Key("posts", "t1", "SELECT ...|[]|role=viewer", []string{"users", "posts"})
		parts := strings.Split(key, "|")
		convey.So(parts, convey.ShouldHaveLength, 4)
		convey.So(parts[0], convey.ShouldEqual, "posts")
		convey.So(parts[1], convey.ShouldEqual, "t1")
		convey.So(parts[2], convey.ShouldHaveLength, 32)
		// 版本向量按集合名排序，同一触达集合集产生稳定的键
		convey.So(parts[3], convey.ShouldEqual, "e0,posts=0,users=0")

		convey.Convey("相同请求形状产生相同的键", func() {
			again := c.Key("posts", "t1", "SELECT ...|[]|role=viewer", []string{"posts", "users"})
			convey.So(again, convey.ShouldEqual, key)
		})

		convey.Convey("签名不同则摘要不同", func() {
			other := c.Key("posts", "t1", "SELECT ...|[]|role=editor", []string{"users", "posts"})
			convey.So(other, convey.ShouldNotEqual, key)
		})

		convey.Convey("失效触达集合后版本抬升，旧键失配", func() {
			c.Invalidate("users")
			after := c.Key("posts", "t1", "SELECT ...|[]|role=viewer", []string{"users", "posts"})
			convey.So(after, convey.ShouldNotEqual, key)
			convey.So(after, convey.ShouldEndWith, "e0,posts=0,users=1")
		})

		convey.Convey("失效无关集合不影响键", func() {
			c.Invalidate("comments")
			after := c.Key("posts", "t1", "SELECT ...|[]|role=viewer", []string{"users", "posts"})
			convey.So(after, convey.ShouldEqual, key)
		})

		convey.Convey("全量失效抬升纪元，所有键失配", func() {
			c.Invalidate(InvalidateAll)
			after := c.Key("posts", "t1", "SELECT ...|[]|role=viewer", []string{"users", "posts"})
			convey.So(after, convey.ShouldNotEqual, key)
			convey.So(after, convey.ShouldContainSubstring, "|e1,")
		})
	})
}

func TestCoordinatorGetSet(t *testing.T) {
	convey.Convey("缓存读写往返", t, func() {
		c, err := NewCoordinatorWithOptions[testResult](&CoordinatorOptions{TTL: time.Minute})
		convey.So(err, convey.ShouldBeNil)
		defer c.Close()
		ctx := context.Background()

		key := c.Key("posts", "t1", "sig", []string{"posts"})

		convey.Convey("未写入时未命中", func() {
			_, ok := c.Get(ctx, key)
			convey.So(ok, convey.ShouldBeFalse)
		})

		convey.Convey("写入后命中且值完整还原", func() {
			c.Set(ctx, key, testResult{
				Total: 3,
				Names: []string{"alice", "bob"},
				Attrs: map[string]string{"status": "draft"},
				Rows:  []map[string]string{{"id": "1"}},
			})

			value, ok := c.Get(ctx, key)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(value.Total, convey.ShouldEqual, 3)
			convey.So(value.Names, convey.ShouldResemble, []string{"alice", "bob"})
			convey.So(value.Attrs["status"], convey.ShouldEqual, "draft")
			convey.So(value.Rows, convey.ShouldHaveLength, 1)

			convey.Convey("命中返回独立副本，改写不污染后续命中", func() {
				value.Names[0] = "mallory"
				value.Attrs["status"] = "published"
				value.Rows[0]["id"] = "999"

				again, ok := c.Get(ctx, key)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(again.Names, convey.ShouldResemble, []string{"alice", "bob"})
				convey.So(again.Attrs["status"], convey.ShouldEqual, "draft")
				convey.So(again.Rows[0]["id"], convey.ShouldEqual, "1")
			})

			convey.Convey("失效后新键未命中，条目无需逐条删除", func() {
				c.Invalidate("posts")
				newKey := c.Key("posts", "t1", "sig", []string{"posts"})
				convey.So(newKey, convey.ShouldNotEqual, key)
				_, ok := c.Get(ctx, newKey)
				convey.So(ok, convey.ShouldBeFalse)
			})
		})
	})
}

func TestCoordinatorBind(t *testing.T) {
	convey.Convey("订阅注册表后模式变更触发失效", t, func() {
		c, err := NewCoordinatorWithOptions[testResult](nil)
		convey.So(err, convey.ShouldBeNil)
		defer c.Close()

		registry := schema.NewRegistry(nil)
		c.Bind(registry)

		before := c.Key("posts", "t1", "sig", []string{"posts", "users"})

		convey.Convey("单集合变更只抬升对应版本", func() {
			registry.NotifyChange("users")
			after := c.Key("posts", "t1", "sig", []string{"posts", "users"})
			convey.So(after, convey.ShouldNotEqual, before)
			convey.So(after, convey.ShouldEndWith, "users=1")
		})

		convey.Convey("全量变更抬升纪元", func() {
			registry.NotifyChange(schema.ChangeAll)
			after := c.Key("posts", "t1", "sig", []string{"posts", "users"})
			convey.So(after, convey.ShouldContainSubstring, "|e1,")
		})
	})
}
