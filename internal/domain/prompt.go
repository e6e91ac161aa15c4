package domain

// BlockKind names one section of a composed prompt.
type BlockKind string

const (
	BlockStudioPolicy    BlockKind = "studio_policy"
	BlockProject         BlockKind = "project"
	BlockCustomers       BlockKind = "customers"
	BlockModelIdentity   BlockKind = "model_identity"
	BlockSceneAsset      BlockKind = "scene_asset"
	BlockPlanScene       BlockKind = "plan_scene"
	BlockDraft           BlockKind = "draft"
	BlockEditInstruction BlockKind = "edit_instruction"
)

// Known reports whether k is one of the fixed block kinds.
func (k BlockKind) Known() bool {
	switch k {
	case BlockStudioPolicy, BlockProject, BlockCustomers, BlockModelIdentity,
		BlockSceneAsset, BlockPlanScene, BlockDraft, BlockEditInstruction:
		return true
	}
	return false
}
