package schema

// Template kinds registered by the Atrium server. Exported so room and gate
// code can reference the canonical kinds instead of duplicating string
// literals.
const (
	KindRemoteAvatar       = "remote-avatar"
	KindInteractableMedia  = "interactable-media"
	KindInteractableCamera = "interactable-camera"
	KindInteractablePen    = "interactable-pen"
	KindInteractableEmoji  = "interactable-emoji-media"
)

// BuiltInTemplates enumerates the networked templates shipped with the
// server. Callers pass these (optionally extended by an overlay file) to
// NewRegistry, which validates them before the server accepts connections.
var BuiltInTemplates = []Template{
	{
		Kind: KindRemoteAvatar,
		Components: []ComponentRef{
			{Component: "position"},
			{Component: "rotation"},
			{Component: "scale"},
			{Component: "player-info"},
			{Component: "networked-avatar"},
			{Component: "avatar-volume", Property: "volume"},
		},
		// Volume is a receiver-local mixing hint; any peer may set it.
		NonAuthorizedSafe: []ComponentRef{
			{Component: "avatar-volume", Property: "volume"},
		},
	},
	{
		Kind: KindInteractableMedia,
		Components: []ComponentRef{
			{Component: "position"},
			{Component: "rotation"},
			{Component: "scale"},
			{Component: "media-loader"},
			{Component: "media-video", Property: "time"},
			{Component: "media-video", Property: "videoPaused"},
			{Component: "media-pager", Property: "index"},
			{Component: "pinnable", Property: "pinned"},
		},
		NonAuthorizedSafe: []ComponentRef{
			{Component: "media-video", Property: "time"},
			{Component: "media-video", Property: "videoPaused"},
			{Component: "media-pager", Property: "index"},
		},
	},
	{
		Kind: KindInteractableCamera,
		Components: []ComponentRef{
			{Component: "position"},
			{Component: "rotation"},
			{Component: "camera-tool", Property: "isSnapping"},
			{Component: "camera-tool", Property: "isRecording"},
			{Component: "camera-tool", Property: "label"},
		},
	},
	{
		Kind: KindInteractablePen,
		Components: []ComponentRef{
			{Component: "position"},
			{Component: "rotation"},
			{Component: "scale"},
			{Component: "pen", Property: "radius"},
			{Component: "pen", Property: "color"},
		},
	},
	{
		Kind: KindInteractableEmoji,
		Components: []ComponentRef{
			{Component: "position"},
			{Component: "rotation"},
			{Component: "scale"},
			{Component: "emoji", Property: "particleEmitterConfig"},
		},
	},
}
