package filter

import (
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/relx/errs"
	"github.com/hatlonely/relx/schema"
)

const filterTestSchema = `
version: 1
collections:
  - name: companies
    fields:
      - { name: id, type: integer, primary: true }
      - { name: name, type: string }
  - name: users
    fields:
      - { name: id, type: integer, primary: true }
      - { name: name, type: string }
      - { name: age, type: integer, nullable: true }
      - { name: active, type: boolean, nullable: true }
      - { name: company_id, type: integer, nullable: true }
      - { name: tags, type: array, elem: string, nullable: true }
    relationships:
      - { name: company, kind: belongsTo, target: companies, foreignKey: company_id }
      - { name: posts, kind: hasMany, target: posts, foreignKey: author_id }
  - name: posts
    fields:
      - { name: id, type: integer, primary: true }
      - { name: title, type: string }
      - { name: views, type: integer, nullable: true }
      - { name: author_id, type: integer, nullable: true }
      - { name: location, type: geometry, nullable: true }
    relationships:
      - { name: author, kind: belongsTo, target: users, foreignKey: author_id }
      - name: items
        kind: anyOf
        junction: post_items
        sourceKey: post_id
        discriminator: item_type
        itemKey: item_id
        targets: [images, videos]
  - name: post_items
    fields:
      - { name: id, type: integer, primary: true }
      - { name: post_id, type: integer }
      - { name: item_type, type: string }
      - { name: item_id, type: integer }
  - name: images
    fields:
      - { name: id, type: integer, primary: true }
      - { name: url, type: string }
  - name: videos
    fields:
      - { name: id, type: integer, primary: true }
      - { name: url, type: string }
`

func filterTestSnapshot(t *testing.T) *schema.Snapshot {
	t.Helper()
	snapshot, err := schema.ParseSnapshot([]byte(filterTestSchema))
	if err != nil {
		t.Fatal(err)
	}
	return snapshot
}

func TestCompile(t *testing.T) {
	convey.Convey("编译过滤对象", t, func() {
		snapshot := filterTestSnapshot(t)
		c := NewCompilerWithOptions(nil)

		convey.Convey("空对象编译为 nil 节点", func() {
			node, err := c.Compile(snapshot, "posts", nil)
			convey.So(err, convey.ShouldBeNil)
			convey.So(node, convey.ShouldBeNil)

			node, err = c.Compile(snapshot, "posts", map[string]interface{}{})
			convey.So(err, convey.ShouldBeNil)
			convey.So(node, convey.ShouldBeNil)
		})

		convey.Convey("单字段单运算符编译为比较节点", func() {
			node, err := c.Compile(snapshot, "posts", map[string]interface{}{
				"title": map[string]interface{}{"eq": "intro"},
			})
			convey.So(err, convey.ShouldBeNil)

			cmp, ok := node.(*Comparison)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(cmp.Operator, convey.ShouldEqual, OpEq)
			convey.So(cmp.Path.Collection, convey.ShouldEqual, "posts")
			convey.So(cmp.Path.Field.Name, convey.ShouldEqual, "title")
			convey.So(cmp.Path.Local(), convey.ShouldBeTrue)
			convey.So(cmp.Value.Kind, convey.ShouldEqual, ValueKindLiteral)
			convey.So(cmp.Value.Literal, convey.ShouldEqual, "intro")
		})

		convey.Convey("对象内多个键隐式 AND 且按键名排序", func() {
			node, err := c.Compile(snapshot, "posts", map[string]interface{}{
				"views": map[string]interface{}{"gte": 10},
				"title": map[string]interface{}{"like": "%go%"},
			})
			convey.So(err, convey.ShouldBeNil)

			and, ok := node.(*And)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(and.Children, convey.ShouldHaveLength, 2)
			convey.So(and.Children[0].(*Comparison).Path.Field.Name, convey.ShouldEqual, "title")
			convey.So(and.Children[1].(*Comparison).Path.Field.Name, convey.ShouldEqual, "views")
		})

		convey.Convey("同一字段上的多个运算符隐式 AND", func() {
			node, err := c.Compile(snapshot, "posts", map[string]interface{}{
				"views": map[string]interface{}{"gte": 10, "lt": 100},
			})
			convey.So(err, convey.ShouldBeNil)

			and, ok := node.(*And)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(and.Children, convey.ShouldHaveLength, 2)
			convey.So(and.Children[0].(*Comparison).Operator, convey.ShouldEqual, OpGte)
			convey.So(and.Children[1].(*Comparison).Operator, convey.ShouldEqual, OpLt)
		})

		convey.Convey("显式 AND 与 OR 数组", func() {
			node, err := c.Compile(snapshot, "posts", map[string]interface{}{
				"OR": []interface{}{
					map[string]interface{}{"title": map[string]interface{}{"eq": "a"}},
					map[string]interface{}{"views": map[string]interface{}{"gt": 5}},
				},
			})
			convey.So(err, convey.ShouldBeNil)

			or, ok := node.(*Or)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(or.Children, convey.ShouldHaveLength, 2)

			convey.Convey("AND 的值必须是对象数组", func() {
				_, err := c.Compile(snapshot, "posts", map[string]interface{}{
					"AND": map[string]interface{}{"title": map[string]interface{}{"eq": "a"}},
				})
				convey.So(errs.KindOf(err), convey.ShouldEqual, errs.KindInvalidFilter)
			})
		})

		convey.Convey("旧式 $name$ 定界符逐段剥除", func() {
			node, err := c.Compile(snapshot, "posts", map[string]interface{}{
				"$author$.$name$": map[string]interface{}{"eq": "alice"},
			})
			convey.So(err, convey.ShouldBeNil)

			cmp := node.(*Comparison)
			convey.So(cmp.Path.Collection, convey.ShouldEqual, "users")
			convey.So(cmp.Path.Field.Name, convey.ShouldEqual, "name")
			convey.So(cmp.Path.Steps, convey.ShouldHaveLength, 1)
		})

		convey.Convey("动态变量保持符号引用", func() {
			node, err := c.Compile(snapshot, "posts", map[string]interface{}{
				"author_id": map[string]interface{}{"eq": "$CURRENT_USER.id"},
			})
			convey.So(err, convey.ShouldBeNil)

			cmp := node.(*Comparison)
			convey.So(cmp.Value.Kind, convey.ShouldEqual, ValueKindVar)
			convey.So(cmp.Value.Ref, convey.ShouldEqual, "CURRENT_USER.id")
		})

		convey.Convey("无值运算符", func() {
			node, err := c.Compile(snapshot, "posts", map[string]interface{}{
				"views": map[string]interface{}{"isNull": nil},
			})
			convey.So(err, convey.ShouldBeNil)
			convey.So(node.(*Comparison).Value.Kind, convey.ShouldEqual, ValueKindNone)
		})

		convey.Convey("非法输入报非法过滤", func() {
			cases := []map[string]interface{}{
				{"nosuch": map[string]interface{}{"eq": 1}},                            // 未知字段
				{"author": map[string]interface{}{"eq": 1}},                            // 路径止于关系
				{"title": "intro"},                                                     // 缺少运算符对象
				{"title": map[string]interface{}{}},                                    // 空运算符对象
				{"title": map[string]interface{}{"nosuchop": 1}},                       // 未知运算符
				{"views": map[string]interface{}{"eq": "ten"}},                         // 整数字段收到字符串
				{"active": map[string]interface{}{"eq": 1}},                            // 布尔字段收到数字
				{"views": map[string]interface{}{"like": "%1%"}},                       // like 不适用于整数
				{"tags": map[string]interface{}{"gt": 1}},                              // 大小比较不适用于数组
				{"views": map[string]interface{}{"in": 1}},                             // in 需要数组
				{"views": map[string]interface{}{"in": []interface{}{nil}}},            // 数组元素必须是标量
				{"title": map[string]interface{}{"eq": []interface{}{"a"}}},            // 标量运算符收到数组
				{"tags": map[string]interface{}{"arraycontains": "go"}},                // 数组运算符需要数组
				{"title": map[string]interface{}{"arraycontains": []interface{}{"a"}}}, // 数组运算符不适用于字符串
				{"location": map[string]interface{}{"within": 1}},                      // 几何运算符需要 WKT 字符串
				{"location": map[string]interface{}{"dwithin": "POINT(0 0)"}},          // dwithin 需要 geometry 与 distance
			}
			for _, raw := range cases {
				_, err := c.Compile(snapshot, "posts", raw)
				convey.So(errs.KindOf(err), convey.ShouldEqual, errs.KindInvalidFilter)
			}
		})

		convey.Convey("dwithin 解析几何与距离", func() {
			node, err := c.Compile(snapshot, "posts", map[string]interface{}{
				"location": map[string]interface{}{"dwithin": map[string]interface{}{
					"geometry": "POINT(0 0)",
					"distance": 500,
				}},
			})
			convey.So(err, convey.ShouldBeNil)

			arg, ok := node.(*Comparison).Value.Literal.(*GeoArg)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(arg.Geometry, convey.ShouldEqual, "POINT(0 0)")
			convey.So(arg.Distance, convey.ShouldEqual, 500)
		})

		convey.Convey("未知集合报错", func() {
			_, err := c.Compile(snapshot, "nosuch", map[string]interface{}{
				"title": map[string]interface{}{"eq": "a"},
			})
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestResolvePath(t *testing.T) {
	convey.Convey("解析字段路径", t, func() {
		snapshot := filterTestSnapshot(t)
		c := NewCompilerWithOptions(nil)

		convey.Convey("穿过关系的路径记录每一步", func() {
			path, err := c.ResolvePath(snapshot, "users", "company.name")
			convey.So(err, convey.ShouldBeNil)
			convey.So(path.Steps, convey.ShouldHaveLength, 1)
			convey.So(path.Steps[0].Relation.Name, convey.ShouldEqual, "company")
			convey.So(path.Collection, convey.ShouldEqual, "companies")
			convey.So(path.ToMany(), convey.ShouldBeFalse)
		})

		convey.Convey("穿过一对多关系时 ToMany 为真", func() {
			path, err := c.ResolvePath(snapshot, "users", "posts.title")
			convey.So(err, convey.ShouldBeNil)
			convey.So(path.ToMany(), convey.ShouldBeTrue)
		})

		convey.Convey("anyOf 关系后的分支段选中目标集合", func() {
			path, err := c.ResolvePath(snapshot, "posts", "items.images.url")
			convey.So(err, convey.ShouldBeNil)
			convey.So(path.Steps, convey.ShouldHaveLength, 1)
			convey.So(path.Steps[0].Branch, convey.ShouldEqual, "images")
			convey.So(path.Collection, convey.ShouldEqual, "images")
			convey.So(path.Field.Name, convey.ShouldEqual, "url")
		})

		convey.Convey("anyOf 伪字段落在 junction 的判别列与目标 ID 列", func() {
			path, err := c.ResolvePath(snapshot, "posts", "items.collection")
			convey.So(err, convey.ShouldBeNil)
			convey.So(path.JunctionPseudo, convey.ShouldEqual, PseudoCollection)
			convey.So(path.Collection, convey.ShouldEqual, "post_items")
			convey.So(path.Field.Name, convey.ShouldEqual, "item_type")

			path, err = c.ResolvePath(snapshot, "posts", "items.id")
			convey.So(err, convey.ShouldBeNil)
			convey.So(path.JunctionPseudo, convey.ShouldEqual, PseudoID)
			convey.So(path.Field.Name, convey.ShouldEqual, "item_id")
		})

		convey.Convey("anyOf 后既非分支也非伪字段的段报错", func() {
			_, err := c.ResolvePath(snapshot, "posts", "items.tags.name")
			convey.So(errs.KindOf(err), convey.ShouldEqual, errs.KindInvalidFilter)
		})

		convey.Convey("空段路径报错", func() {
			_, err := c.ResolvePath(snapshot, "posts", "author..name")
			convey.So(errs.KindOf(err), convey.ShouldEqual, errs.KindInvalidFilter)
		})

		convey.Convey("超出最大关系深度报非法查询", func() {
			shallow := NewCompilerWithOptions(&CompilerOptions{MaxDepth: 1})
			_, err := shallow.ResolvePath(snapshot, "posts", "author.company.name")
			convey.So(errs.KindOf(err), convey.ShouldEqual, errs.KindInvalidQuery)
		})
	})
}

func TestResolveRelationPath(t *testing.T) {
	convey.Convey("解析纯关系路径", t, func() {
		snapshot := filterTestSnapshot(t)
		c := NewCompilerWithOptions(nil)

		convey.Convey("单段关系路径落在目标集合", func() {
			path, err := c.ResolveRelationPath(snapshot, "posts", "author")
			convey.So(err, convey.ShouldBeNil)
			convey.So(path.Collection, convey.ShouldEqual, "users")
			convey.So(path.Steps, convey.ShouldHaveLength, 1)
		})

		convey.Convey("anyOf 关系必须带目标分支", func() {
			path, err := c.ResolveRelationPath(snapshot, "posts", "items.videos")
			convey.So(err, convey.ShouldBeNil)
			convey.So(path.Collection, convey.ShouldEqual, "videos")
			convey.So(path.Steps[0].Branch, convey.ShouldEqual, "videos")

			_, err = c.ResolveRelationPath(snapshot, "posts", "items")
			convey.So(errs.KindOf(err), convey.ShouldEqual, errs.KindInvalidQuery)
		})

		convey.Convey("路径中出现字段名报非法查询", func() {
			_, err := c.ResolveRelationPath(snapshot, "posts", "title")
			convey.So(errs.KindOf(err), convey.ShouldEqual, errs.KindInvalidQuery)
		})
	})
}

func TestNodeHelpers(t *testing.T) {
	convey.Convey("条件树构造与合并", t, func() {
		a := &Comparison{Operator: OpEq}
		b := &Comparison{Operator: OpGt}

		convey.Convey("单子节点时直接返回该子节点", func() {
			convey.So(NewAnd(a), convey.ShouldEqual, a)
			convey.So(NewOr(nil, b), convey.ShouldEqual, b)
		})

		convey.Convey("MergeAnd 生成新节点且不改写入参", func() {
			merged := MergeAnd(a, b)
			and, ok := merged.(*And)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(and.Children, convey.ShouldHaveLength, 2)
			convey.So(and.Children[0], convey.ShouldEqual, a)
			convey.So(and.Children[1], convey.ShouldEqual, b)
		})

		convey.Convey("双方都为空时合并为空与节点", func() {
			merged := MergeAnd(nil, nil)
			and, ok := merged.(*And)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(and.Children, convey.ShouldBeEmpty)
		})

		convey.Convey("Walk 深度优先遍历", func() {
			tree := NewAnd(a, NewOr(b, &Comparison{Operator: OpLt}))
			count := 0
			Walk(tree, func(Node) bool {
				count++
				return true
			})
			convey.So(count, convey.ShouldEqual, 5)

			convey.Convey("fn 返回 false 时不再深入", func() {
				visited := 0
				Walk(tree, func(n Node) bool {
					visited++
					return n.NodeType() != NodeTypeOr
				})
				convey.So(visited, convey.ShouldEqual, 3)
			})
		})
	})
}
