// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/stacklok/toka/pkg/authserver/identity"
	tokaerrors "github.com/stacklok/toka/pkg/errors"
)

const msgInvalidClient = "Invalid client credentials"

// lookupClient resolves a registered client. A nil client with a nil error
// means the id is unknown.
func (c *core) lookupClient(ctx context.Context, clientID string) (*identity.Client, error) {
	client, err := bounded(ctx, c.settings.UpstreamTimeout, func(ctx context.Context) (*identity.Client, error) {
		return c.deps.Clients.Client(ctx, clientID)
	})
	if errors.Is(err, identity.ErrClientNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, upstreamError("Unable to load client", err)
	}
	return client, nil
}

// authenticateClient checks client credentials. Unknown clients and wrong
// secrets are indistinguishable to the caller.
func (c *core) authenticateClient(ctx context.Context, clientID, secret string) (*identity.Client, error) {
	client, err := c.lookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil || subtle.ConstantTimeCompare([]byte(client.Secret), []byte(secret)) != 1 {
		return nil, tokaerrors.New(tokaerrors.KindInvalidClient, msgInvalidClient)
	}
	return client, nil
}
