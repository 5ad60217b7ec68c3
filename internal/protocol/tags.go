package protocol

import "sort"

// Tag is the operation discriminator carried in an envelope's "op" field.
type Tag string

const (
	TagKernelReady  Tag = "kernel-ready"
	TagCompletedRun Tag = "completed-run"
	TagInterrupted  Tag = "interrupted"
	// TagSessionClosed is sent by the kernel on shutdown and synthesized by
	// the session when the transport ends.
	TagSessionClosed Tag = "session-closed"

	TagCellOp           Tag = "cell-op"
	TagRemoveUIElements Tag = "remove-ui-elements"

	TagFunctionCallResult Tag = "function-call-result"

	TagQueryParamsAppend Tag = "query-params-append"
	TagQueryParamsSet    Tag = "query-params-set"
	TagQueryParamsDelete Tag = "query-params-delete"
	TagQueryParamsClear  Tag = "query-params-clear"

	TagAlert                  Tag = "alert"
	TagBanner                 Tag = "banner"
	TagMissingPackageAlert    Tag = "missing-package-alert"
	TagInstallingPackageAlert Tag = "installing-package-alert"
	TagKernelStartupError     Tag = "kernel-startup-error"

	TagVariables            Tag = "variables"
	TagVariableValues       Tag = "variable-values"
	TagCompletionResult     Tag = "completion-result"
	TagReload               Tag = "reload"
	TagReconnected          Tag = "reconnected"
	TagFocusCell            Tag = "focus-cell"
	TagUpdateCellCodes      Tag = "update-cell-codes"
	TagUpdateCellIDs        Tag = "update-cell-ids"
	TagSendUIElementMessage Tag = "send-ui-element-message"
	TagDatasets             Tag = "datasets"
	TagDataColumnPreview    Tag = "data-column-preview"
	TagSQLTablePreview      Tag = "sql-table-preview"
	TagSecretKeysResult     Tag = "secret-keys-result"
	TagStartupLogs          Tag = "startup-logs"
)

// Outbound request tags.
const (
	TagInvokeFunction    Tag = "invoke-function"
	TagSetUIElementValue Tag = "set-ui-element-value"
	TagInterrupt         Tag = "interrupt"
)

// Route names the collaborator an inbound tag is delivered to.
type Route string

const (
	RouteLifecycle   Route = "lifecycle"
	RouteStore       Route = "store"
	RouteFunctions   Route = "functions"
	RouteQueryParams Route = "query-params"
	RouteNotify      Route = "notify"
	RouteUnsupported Route = "unsupported"
)

// KnownTags returns every inbound tag the parser accepts, sorted.
func KnownTags() []Tag {
	out := make([]Tag, 0, len(decoders))
	for tag := range decoders {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func IsKnownTag(tag Tag) bool {
	_, ok := decoders[tag]
	return ok
}
