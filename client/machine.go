package client

import (
	"context"
	"net/http"

	"github.com/rentwatch/rentwatch/api"
)

// ListMachines fetches every machine the account owns.
func (c *Client) ListMachines(ctx context.Context) ([]api.Machine, error) {
	resp, err := c.sendRequest(ctx, http.MethodGet, "/machines", nil)
	if err != nil {
		return nil, err
	}
	defer safeClose(resp.Body)

	var page api.MachinePage
	if err := parseResponse(resp, &page); err != nil {
		return nil, err
	}
	return page.Machines, nil
}

// Machines fetches the account's machines filtered to the given ids. An
// empty filter returns everything.
func (c *Client) Machines(ctx context.Context, ids []int64) ([]api.Machine, error) {
	machines, err := c.ListMachines(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return machines, nil
	}

	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var out []api.Machine
	for _, m := range machines {
		if wanted[m.MachineID] {
			out = append(out, m)
		}
	}
	return out, nil
}
