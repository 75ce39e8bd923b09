package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestNewSLogWithOptions(t *testing.T) {
	convey.Convey("日志器构造", t, func() {
		convey.Convey("nil 选项报错", func() {
			_, err := NewSLogWithOptions(nil)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("未知级别与格式报错", func() {
			_, err := NewSLogWithOptions(&SLogOptions{Level: "loud"})
			convey.So(err, convey.ShouldNotBeNil)

			_, err = NewSLogWithOptions(&SLogOptions{Format: "xml"})
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("缺省输出到终端", func() {
			l, err := NewSLogWithOptions(&SLogOptions{})
			convey.So(err, convey.ShouldBeNil)
			convey.So(l, convey.ShouldNotBeNil)
		})
	})
}

func TestSLogOutput(t *testing.T) {
	convey.Convey("文件输出", t, func() {
		path := filepath.Join(t.TempDir(), "app.log")
		l, err := NewSLogWithOptions(&SLogOptions{
			Level:  "info",
			Format: "json",
			Output: path,
			Fields: map[string]any{"service": "relx"},
		})
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("日志行带上公共字段与调用方字段", func() {
			l.With("component", "engine").Info("query executed", "collection", "posts")

			data, err := os.ReadFile(path)
			convey.So(err, convey.ShouldBeNil)
			content := string(data)
			convey.So(content, convey.ShouldContainSubstring, `"msg":"query executed"`)
			convey.So(content, convey.ShouldContainSubstring, `"service":"relx"`)
			convey.So(content, convey.ShouldContainSubstring, `"component":"engine"`)
			convey.So(content, convey.ShouldContainSubstring, `"collection":"posts"`)
		})

		convey.Convey("低于配置级别的日志被过滤", func() {
			l.Debug("invisible")
			l.Warn("visible")

			data, err := os.ReadFile(path)
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(data), convey.ShouldNotContainSubstring, "invisible")
			convey.So(string(data), convey.ShouldContainSubstring, "visible")
		})

		convey.Convey("WithGroup 给字段加组前缀", func() {
			l.WithGroup("req").Info("done", "id", "r1")

			data, err := os.ReadFile(path)
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(data), convey.ShouldContainSubstring, `"req":{"id":"r1"}`)
		})
	})
}

func TestDefault(t *testing.T) {
	convey.Convey("默认日志器可替换", t, func() {
		original := Default()
		defer SetDefault(original)

		convey.So(original, convey.ShouldNotBeNil)

		replacement, err := NewSLogWithOptions(&SLogOptions{Level: "error"})
		convey.So(err, convey.ShouldBeNil)

		SetDefault(replacement)
		convey.So(Default(), convey.ShouldEqual, replacement)

		convey.Convey("nil 不覆盖现有默认日志器", func() {
			SetDefault(nil)
			convey.So(Default(), convey.ShouldEqual, replacement)
		})
	})
}
