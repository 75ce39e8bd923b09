package ref

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/smartystreets/goconvey/convey"
)

type testWidget struct {
	Name string
	Size int
}

type testWidgetOptions struct {
	Name string
	Size int
}

func newTestWidget() *testWidget {
	return &testWidget{Name: "default"}
}

func newTestWidgetWithOptions(options *testWidgetOptions) *testWidget {
	return &testWidget{Name: options.Name, Size: options.Size}
}

func newTestWidgetWithError(options *testWidgetOptions) (*testWidget, error) {
	if options.Size < 0 {
		return nil, errors.New("negative size")
	}
	return &testWidget{Name: options.Name, Size: options.Size}, nil
}

func TestRegisterAndNew(t *testing.T) {
	convey.Convey("注册构造函数并按名构造", t, func() {
		convey.Convey("无参构造函数", func() {
			convey.So(Register("test", "Plain", newTestWidget), convey.ShouldBeNil)

			obj, err := New("test", "Plain", nil)
			convey.So(err, convey.ShouldBeNil)
			convey.So(obj.(*testWidget).Name, convey.ShouldEqual, "default")
		})

		convey.Convey("带选项的构造函数", func() {
			convey.So(Register("test", "WithOptions", newTestWidgetWithOptions), convey.ShouldBeNil)

			obj, err := New("test", "WithOptions", &testWidgetOptions{Name: "a", Size: 3})
			convey.So(err, convey.ShouldBeNil)
			convey.So(obj.(*testWidget).Size, convey.ShouldEqual, 3)

			convey.Convey("options 为 nil 时传入零值指针", func() {
				obj, err := New("test", "WithOptions", nil)
				convey.So(err, convey.ShouldBeNil)
				convey.So(obj.(*testWidget).Name, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("构造函数返回的错误原样透出", func() {
			convey.So(Register("test", "WithError", newTestWidgetWithError), convey.ShouldBeNil)

			_, err := New("test", "WithError", &testWidgetOptions{Size: -1})
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "negative size")
		})

		convey.Convey("未注册的类型报错", func() {
			_, err := New("test", "NoSuch", nil)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("重复注册同一函数幂等，不同函数报错", func() {
			convey.So(Register("test", "Dup", newTestWidget), convey.ShouldBeNil)
			convey.So(Register("test", "Dup", newTestWidget), convey.ShouldBeNil)
			convey.So(Register("test", "Dup", newTestWidgetWithOptions), convey.ShouldNotBeNil)
		})

		convey.Convey("非函数与非法签名拒绝注册", func() {
			convey.So(Register("test", "NotFunc", 42), convey.ShouldNotBeNil)
			convey.So(Register("test", "TooManyArgs", func(a, b int) *testWidget { return nil }), convey.ShouldNotBeNil)
			convey.So(Register("test", "NoReturn", func() {}), convey.ShouldNotBeNil)
		})
	})
}

func TestRegisterTAndNewT(t *testing.T) {
	convey.Convey("按类型注册与构造", t, func() {
		convey.So(RegisterT[*testWidget](newTestWidgetWithOptions), convey.ShouldBeNil)

		w, err := NewT[*testWidget](&testWidgetOptions{Name: "typed", Size: 9})
		convey.So(err, convey.ShouldBeNil)
		convey.So(w.Name, convey.ShouldEqual, "typed")
		convey.So(w.Size, convey.ShouldEqual, 9)
	})
}
