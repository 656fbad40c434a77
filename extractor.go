package blockmux

import (
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// Extractor pulls a typed, slot-ordered block out of the raw update stream.
// B is the block type a concrete extractor yields; SubscriptionFilters
// reports the filter maps that must be present on the SubscribeRequest for
// Extract to ever see a matching update.
type Extractor[B any] interface {
	SubscriptionFilters() (blocks map[string]*pb.SubscribeRequestFilterBlocks, blocksMeta map[string]*pb.SubscribeRequestFilterBlocksMeta)

	// Extract inspects update and, if it carries a block for a slot strictly
	// greater than currentSlot, returns that slot and block with ok true.
	// Any other update (wrong oneof variant, stale slot) returns ok false.
	Extract(update *pb.SubscribeUpdate, currentSlot uint64) (slot uint64, block B, ok bool)
}

const blockFilterKey = "blockmux-block"

// BlockExtractor extracts full SubscribeUpdateBlock payloads.
type BlockExtractor struct{}

// NewBlockExtractor returns an Extractor yielding full blocks.
func NewBlockExtractor() *BlockExtractor {
	return &BlockExtractor{}
}

func (e *BlockExtractor) SubscriptionFilters() (map[string]*pb.SubscribeRequestFilterBlocks, map[string]*pb.SubscribeRequestFilterBlocksMeta) {
	return map[string]*pb.SubscribeRequestFilterBlocks{
			blockFilterKey: {},
		}, map[string]*pb.SubscribeRequestFilterBlocksMeta{}
}

func (e *BlockExtractor) Extract(update *pb.SubscribeUpdate, currentSlot uint64) (uint64, *pb.SubscribeUpdateBlock, bool) {
	block := update.GetBlock()
	if block == nil || block.Slot <= currentSlot {
		return 0, nil, false
	}
	return block.Slot, block, true
}

// BlockMetaExtractor extracts block-meta payloads only, which is cheaper to
// transmit than a full block when callers only need slot/blockhash progress.
type BlockMetaExtractor struct{}

// NewBlockMetaExtractor returns an Extractor yielding block-meta summaries.
func NewBlockMetaExtractor() *BlockMetaExtractor {
	return &BlockMetaExtractor{}
}

func (e *BlockMetaExtractor) SubscriptionFilters() (map[string]*pb.SubscribeRequestFilterBlocks, map[string]*pb.SubscribeRequestFilterBlocksMeta) {
	return map[string]*pb.SubscribeRequestFilterBlocks{}, map[string]*pb.SubscribeRequestFilterBlocksMeta{
		blockFilterKey: {},
	}
}

func (e *BlockMetaExtractor) Extract(update *pb.SubscribeUpdate, currentSlot uint64) (uint64, *pb.SubscribeUpdateBlockMeta, bool) {
	meta := update.GetBlockMeta()
	if meta == nil || meta.Slot <= currentSlot {
		return 0, nil, false
	}
	return meta.Slot, meta, true
}
