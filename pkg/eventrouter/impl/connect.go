package impl

import (
	"context"
	"fmt"

	"github.com/textileio/go-tonconnect/pkg/eventrouter"
	"github.com/textileio/go-tonconnect/pkg/manifest"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"github.com/textileio/go-tonconnect/pkg/wallet"
)

var permissions = map[tonconnect.ConnectItemName]eventrouter.Permission{
	tonconnect.ItemTonAddr: {
		Name:        tonconnect.ItemTonAddr,
		Title:       "Wallet address",
		Description: "View your wallet address, network, public key and balance.",
	},
	tonconnect.ItemTonProof: {
		Name:        tonconnect.ItemTonProof,
		Title:       "Proof of ownership",
		Description: "Sign a message proving you own this wallet.",
	},
}

func (r *Router) handleConnect(
	ctx context.Context,
	e eventrouter.Event,
) (eventrouter.ConnectRequest, *tonconnect.Error, error) {
	w, err := r.connectWallet(e)
	if err != nil {
		return eventrouter.ConnectRequest{}, nil, err
	}

	var params tonconnect.ConnectParams
	if err := e.DecodeParams(&params); err != nil {
		return eventrouter.ConnectRequest{}, badRequest("invalid connect params: %s", err), nil
	}
	manifestURL := params.URL()
	if manifestURL == "" {
		return eventrouter.ConnectRequest{}, badRequest("manifest url is missing"), nil
	}

	req := eventrouter.ConnectRequest{
		Request: requestOf(e, w.GetAddress()),
		DApp:    r.dAppInfo(ctx, manifestURL, e.Domain),
		Items:   params.Items,
	}
	for _, item := range params.Items {
		if p, ok := permissions[item.Name]; ok {
			req.Permissions = append(req.Permissions, p)
		}
	}
	if req.Domain == "" {
		req.Domain = req.DApp.Domain
	}
	return req, nil, nil
}

// connectWallet picks the wallet a connect request is offered to. Connect
// events usually arrive without wallet context, so the first registered
// wallet is used.
func (r *Router) connectWallet(e eventrouter.Event) (wallet.Wallet, error) {
	if e.Wallet != nil {
		return e.Wallet, nil
	}
	if e.WalletAddress != "" {
		if w, err := r.wallets.Get(e.WalletAddress); err == nil {
			return w, nil
		}
	}
	if w, ok := r.wallets.Default(); ok {
		return w, nil
	}
	return nil, fmt.Errorf("resolving wallet for connect: %w", eventrouter.ErrNoWallet)
}

// dAppInfo fetches the manifest and degrades to what the request tells about
// the dApp when it can't be fetched.
func (r *Router) dAppInfo(ctx context.Context, manifestURL, domain string) eventrouter.DAppInfo {
	info := eventrouter.DAppInfo{
		ManifestURL: manifestURL,
		Domain:      domain,
	}

	m, err := r.fetcher.Fetch(ctx, manifestURL)
	if err != nil {
		r.log.Warn().Err(err).Str("manifestUrl", manifestURL).Msg("fetching manifest")
		info.ManifestFetchFailed = true
		info.ManifestError = err.Error()
		if info.Domain == "" {
			info.Domain = manifest.Domain(manifestURL)
		}
		return info
	}

	info.Name = m.Name
	info.URL = m.URL
	info.IconURL = m.IconURL
	if d := manifest.Domain(m.URL); d != "" {
		info.Domain = d
	}
	return info
}
