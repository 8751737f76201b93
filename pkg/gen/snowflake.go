package gen

import (
	"ecorewards-engine/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewSnowflakeNode),
)

// NewSnowflakeNode builds the id generator for this process. Every replica
// must run with a distinct SNOWFLAKE_NODE.
func NewSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		zap.L().Error("failed to init snowflake node", zap.Int64("node", cfg.SnowflakeNode), zap.Error(err))
		return nil, err
	}
	return node, nil
}
