package uid

import (
	"crypto/rand"
	"math/big"

	"github.com/bwmarrin/snowflake"
)

// Snowflake generates sortable int64 IDs using a per-process node number.
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake creates a Snowflake generator with a random node number.
//
// A random node keeps IDs collision-resistant across replicas without
// requiring coordinated node assignment.
func NewSnowflake() (*Snowflake, error) {
	nodeMax := int64(-1 ^ (-1 << snowflake.NodeBits)) // 1023 with default bits

	n, err := rand.Int(rand.Reader, big.NewInt(nodeMax+1))
	if err != nil {
		return nil, err
	}

	node, err := snowflake.NewNode(n.Int64())
	if err != nil {
		return nil, err
	}

	return &Snowflake{node: node}, nil
}

// Generate returns a new int64 ID.
func (s *Snowflake) Generate() int64 {
	return s.node.Generate().Int64()
}
