package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
)

type testServerOptions struct {
	Host    string            `cfg:"host" def:"localhost"`
	Port    int               `cfg:"port" def:"3306" validate:"min=1,max=65535"`
	Timeout time.Duration     `cfg:"timeout" def:"5s"`
	Tags    []string          `cfg:"tags"`
	Debug   bool              `cfg:"debug"`
	Cache   *testCacheOptions `cfg:"cache"`
}

type testCacheOptions struct {
	TTL  time.Duration `cfg:"ttl" def:"5m"`
	Size int           `cfg:"size" def:"1024"`
}

func writeTempFile(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	convey.Convey("测试配置加载", t, func() {
		convey.Convey("yaml 格式", func() {
			path := writeTempFile(t, "conf.yaml", `
host: db.example.com
port: 3307
timeout: 10s
tags:
  - primary
  - replica
cache:
  ttl: 1m
`)
			var options testServerOptions
			err := Load(path, &options)
			convey.So(err, convey.ShouldBeNil)
			convey.So(options.Host, convey.ShouldEqual, "db.example.com")
			convey.So(options.Port, convey.ShouldEqual, 3307)
			convey.So(options.Timeout, convey.ShouldEqual, 10*time.Second)
			convey.So(options.Tags, convey.ShouldResemble, []string{"primary", "replica"})
			convey.So(options.Cache, convey.ShouldNotBeNil)
			convey.So(options.Cache.TTL, convey.ShouldEqual, time.Minute)
		})

		convey.Convey("json 格式", func() {
			path := writeTempFile(t, "conf.json", `{"host": "db.example.com", "port": 3307, "debug": true}`)
			var options testServerOptions
			err := Load(path, &options)
			convey.So(err, convey.ShouldBeNil)
			convey.So(options.Host, convey.ShouldEqual, "db.example.com")
			convey.So(options.Debug, convey.ShouldBeTrue)
		})

		convey.Convey("toml 格式", func() {
			path := writeTempFile(t, "conf.toml", `
host = "db.example.com"
port = 3307

[cache]
size = 2048
`)
			var options testServerOptions
			err := Load(path, &options)
			convey.So(err, convey.ShouldBeNil)
			convey.So(options.Host, convey.ShouldEqual, "db.example.com")
			convey.So(options.Cache.Size, convey.ShouldEqual, 2048)
		})

		convey.Convey("ini 格式，默认段在顶层", func() {
			path := writeTempFile(t, "conf.ini", `
host = db.example.com
port = 3307

[cache]
size = 2048
`)
			var options testServerOptions
			err := Load(path, &options)
			convey.So(err, convey.ShouldBeNil)
			convey.So(options.Host, convey.ShouldEqual, "db.example.com")
			convey.So(options.Port, convey.ShouldEqual, 3307)
			convey.So(options.Cache.Size, convey.ShouldEqual, 2048)
		})

		convey.Convey("未识别的扩展名报错", func() {
			path := writeTempFile(t, "conf.xml", `<host/>`)
			var options testServerOptions
			err := Load(path, &options)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("缺省字段按 def tag 补默认值", func() {
			path := writeTempFile(t, "conf.yaml", `host: db.example.com`)
			var options testServerOptions
			err := Load(path, &options)
			convey.So(err, convey.ShouldBeNil)
			convey.So(options.Port, convey.ShouldEqual, 3306)
			convey.So(options.Timeout, convey.ShouldEqual, 5*time.Second)
		})

		convey.Convey("validate tag 校验失败", func() {
			path := writeTempFile(t, "conf.yaml", `port: 70000`)
			var options testServerOptions
			err := Load(path, &options)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("环境变量覆盖文件值", func() {
			path := writeTempFile(t, "conf.yaml", `
host: db.example.com
port: 3307
cache:
  ttl: 1m
`)
			t.Setenv("RELX_HOST", "env.example.com")
			t.Setenv("RELX_CACHE_TTL", "30s")
			var options testServerOptions
			err := LoadWithOptions(path, &options, &Options{EnvPrefix: "RELX"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(options.Host, convey.ShouldEqual, "env.example.com")
			convey.So(options.Port, convey.ShouldEqual, 3307)
			convey.So(options.Cache.TTL, convey.ShouldEqual, 30*time.Second)
		})
	})
}

func TestSetDefaults(t *testing.T) {
	convey.Convey("测试默认值填充", t, func() {
		convey.Convey("零值字段被填充，非零字段保持原值", func() {
			options := testServerOptions{Host: "custom"}
			err := SetDefaults(&options)
			convey.So(err, convey.ShouldBeNil)
			convey.So(options.Host, convey.ShouldEqual, "custom")
			convey.So(options.Port, convey.ShouldEqual, 3306)
		})

		convey.Convey("空指针子结构不展开", func() {
			var options testServerOptions
			err := SetDefaults(&options)
			convey.So(err, convey.ShouldBeNil)
			convey.So(options.Cache, convey.ShouldBeNil)
		})

		convey.Convey("非指针参数报错", func() {
			err := SetDefaults(testServerOptions{})
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestBind(t *testing.T) {
	convey.Convey("测试数据绑定", t, func() {
		convey.Convey("字符串值按目标类型解析", func() {
			var options testServerOptions
			err := Bind(map[string]interface{}{
				"port":    "3307",
				"timeout": "3s",
				"debug":   "true",
				"tags":    "a, b",
			}, &options)
			convey.So(err, convey.ShouldBeNil)
			convey.So(options.Port, convey.ShouldEqual, 3307)
			convey.So(options.Timeout, convey.ShouldEqual, 3*time.Second)
			convey.So(options.Debug, convey.ShouldBeTrue)
			convey.So(options.Tags, convey.ShouldResemble, []string{"a", "b"})
		})

		convey.Convey("类型不匹配报错", func() {
			var options testServerOptions
			err := Bind(map[string]interface{}{"port": "not-a-number"}, &options)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
