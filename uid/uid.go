package uid

import (
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator 系统生成字段的取值生成器
// 引擎在写入时用它填充 uuid / autoincrement 类默认值
type Generator interface {
	// NextString 生成字符串形式的 ID
	NextString() string
	// NextInt 生成整数形式的 ID
	NextInt() int64
}

type GeneratorOptions struct {
	// UUID 版本：v1, v4, v7
	UUIDVersion string `cfg:"uuidVersion" def:"v4"`
	// 是否保留 UUID 中划线
	WithHyphens bool `cfg:"withHyphens" def:"true"`
	// Snowflake 机器 ID，为负时自动从 IP 推导
	MachineID int64 `cfg:"machineID" def:"-1"`
}

// NewGeneratorWithOptions 创建 ID 生成器
func NewGeneratorWithOptions(options *GeneratorOptions) *UIDGenerator {
	if options == nil {
		options = &GeneratorOptions{UUIDVersion: "v4", WithHyphens: true, MachineID: -1}
	}
	if options.UUIDVersion == "" {
		options.UUIDVersion = "v4"
	}

	machineID := options.MachineID
	if machineID < 0 {
		machineID = machineIDFromIP()
	}
	machineID = machineID & maxMachineID

	// 固定纪元 2020-01-01 00:00:00 UTC
	epoch := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	return &UIDGenerator{
		uuidVersion: options.UUIDVersion,
		withHyphens: options.WithHyphens,
		machineID:   machineID,
		epoch:       epoch,
		state:       (time.Now().UnixMilli() - epoch) << sequenceBits,
	}
}

// UIDGenerator 同时提供 UUID 字符串和 Snowflake 整数 ID
// 64 位整数结构：1 位符号位(0) + 41 位时间戳 + 10 位机器 ID + 12 位序列号
type UIDGenerator struct {
	uuidVersion string
	withHyphens bool

	state     int64 // 原子状态：高 52 位时间戳 + 低 12 位序列号
	machineID int64
	epoch     int64
}

const (
	sequenceBits  = 12
	machineIDBits = 10

	maxSequence  = (1 << sequenceBits) - 1
	maxMachineID = (1 << machineIDBits) - 1

	machineIDShift = sequenceBits
	timestampShift = sequenceBits + machineIDBits
)

func (g *UIDGenerator) NextString() string {
	var u uuid.UUID
	switch g.uuidVersion {
	case "v1":
		u, _ = uuid.NewUUID()
	case "v7":
		u = uuid.Must(uuid.NewV7())
	default:
		u = uuid.New()
	}

	if g.withHyphens {
		return u.String()
	}
	return strings.ReplaceAll(u.String(), "-", "")
}

func (g *UIDGenerator) NextInt() int64 {
	for {
		oldState := atomic.LoadInt64(&g.state)
		oldTimestamp := oldState >> sequenceBits
		oldSequence := oldState & maxSequence

		currentTimestamp := time.Now().UnixMilli() - g.epoch

		var newTimestamp, newSequence int64
		if currentTimestamp == oldTimestamp {
			// 同一毫秒内序列号递增，溢出则等待下一毫秒
			newSequence = (oldSequence + 1) & maxSequence
			if newSequence == 0 {
				for currentTimestamp <= oldTimestamp {
					currentTimestamp = time.Now().UnixMilli() - g.epoch
				}
				newTimestamp = currentTimestamp
			} else {
				newTimestamp = oldTimestamp
			}
		} else {
			newTimestamp = currentTimestamp
			newSequence = 0
		}

		newState := (newTimestamp << sequenceBits) | newSequence
		if atomic.CompareAndSwapInt64(&g.state, oldState, newState) {
			return (newTimestamp << timestampShift) | (g.machineID << machineIDShift) | newSequence
		}
	}
}

func machineIDFromIP() int64 {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return 0
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipv4 := ipnet.IP.To4(); ipv4 != nil {
				return int64(ipv4[2])<<8 | int64(ipv4[3])
			}
		}
	}
	return 0
}
