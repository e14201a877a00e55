package internal

import "expvar"

var (
	requestsTotal     = expvar.NewMap("reviewhook_requests_total")
	signatureFailures = expvar.NewInt("reviewhook_signature_failures_total")
	parseErrors       = expvar.NewInt("reviewhook_parse_errors_total")
	eventsPublished   = expvar.NewMap("reviewhook_events_published_total")
	dispatchesTotal   = expvar.NewMap("reviewhook_dispatches_total")
	handlerFailures   = expvar.NewMap("reviewhook_handler_failures_total")
	tokensMinted      = expvar.NewInt("reviewhook_tokens_minted_total")
	tokenCacheHits    = expvar.NewInt("reviewhook_token_cache_hits_total")
)

func IncRequest(event string) {
	if event == "" {
		event = "unknown"
	}
	requestsTotal.Add(event, 1)
}

func IncSignatureFailure() {
	signatureFailures.Add(1)
}

func IncParseError() {
	parseErrors.Add(1)
}

func IncPublished(topic string) {
	eventsPublished.Add(topic, 1)
}

func IncDispatch(event string) {
	dispatchesTotal.Add(event, 1)
}

func IncHandlerFailure(event string) {
	handlerFailures.Add(event, 1)
}

func IncTokenMinted() {
	tokensMinted.Add(1)
}

func IncTokenCacheHit() {
	tokenCacheHits.Add(1)
}
