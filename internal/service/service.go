// Package service adapts the biz layer to HTTP: webhook ingress and breaker admin.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewWebhookService, NewBreakerAdminService)
