package errs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/smartystreets/goconvey/convey"
)

func TestKindOf(t *testing.T) {
	convey.Convey("错误类别判定", t, func() {
		convey.Convey("构造函数带出的详情不影响类别", func() {
			err := InvalidFilterf("unknown field %s", "nosuch")
			convey.So(KindOf(err), convey.ShouldEqual, KindInvalidFilter)
			convey.So(err.Error(), convey.ShouldContainSubstring, "unknown field nosuch")
			convey.So(errors.Is(err, ErrInvalidFilter), convey.ShouldBeTrue)
		})

		convey.Convey("五种类别各归其位", func() {
			convey.So(KindOf(InvalidQueryf("bad")), convey.ShouldEqual, KindInvalidQuery)
			convey.So(KindOf(PermissionDeniedf("no")), convey.ShouldEqual, KindPermissionDenied)
			convey.So(KindOf(Conflictf("dup")), convey.ShouldEqual, KindConflict)
			convey.So(KindOf(NotFoundf("miss")), convey.ShouldEqual, KindNotFound)
		})

		convey.Convey("包装一层之后类别保持", func() {
			err := errors.WithMessagef(NotFoundf("row %d", 7), "item %d", 0)
			convey.So(KindOf(err), convey.ShouldEqual, KindNotFound)
		})

		convey.Convey("未知错误归为 internal", func() {
			convey.So(KindOf(errors.New("boom")), convey.ShouldEqual, KindInternal)
			convey.So(KindOf(nil), convey.ShouldEqual, KindInternal)
		})
	})
}
