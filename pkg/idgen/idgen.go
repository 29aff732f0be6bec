package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// 2024-01-01 00:00:00 UTC, in milliseconds.
const epochMillis = int64(1704067200000)

var (
	node     *snowflake.Node
	nodeOnce sync.Once
	nodeErr  error
)

// Init configures the process-wide snowflake node. It must be called before the
// first ID is generated to take effect; later calls are ignored.
func Init(workerID int64) error {
	nodeOnce.Do(func() {
		snowflake.Epoch = epochMillis
		node, nodeErr = snowflake.NewNode(workerID)
	})
	return nodeErr
}

// NextID returns the next snowflake ID, initialising worker 1 on first use.
func NextID() int64 {
	if err := Init(1); err != nil {
		panic(fmt.Sprintf("idgen: %v", err))
	}
	return node.Generate().Int64()
}

func withPrefix(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s%08d", prefix, time.Now().UTC().Format("20060102150405"), id%100000000)
}

// GenerateOrderNo returns e.g. CO2026011514305212345678.
func GenerateOrderNo() string {
	return withPrefix("CO")
}

func GenerateTransactionNo() string {
	return withPrefix("TXN")
}
