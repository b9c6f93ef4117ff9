package server

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/query"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// binder fills a request message from the HTTP request.
type binder[Req any] func(r *http.Request, params map[string]string, req *Req) error

// NewGateway maps HTTP/JSON routes onto the ledger RPCs served by conn. The
// Authorization header is forwarded as gRPC metadata.
func NewGateway(conn grpc.ClientConnInterface) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux(
		runtime.WithMarshalerOption(runtime.MIMEWildcard, &runtime.JSONBuiltin{}),
	)

	var errs []error
	add := func(err error) { errs = append(errs, err) }

	add(route[Empty, SystemResponse](mux, conn, "GET", "/v1/system", "GetSystem", bindNone[Empty]))
	add(route[PositionRequest, PositionResponse](mux, conn, "GET", "/v1/positions/{id}", "GetPosition", func(r *http.Request, p map[string]string, req *PositionRequest) (err error) {
		req.ID, err = pathUUID(p, "id")
		return err
	}))
	add(route[SortedPositionsRequest, SortedPositionsResponse](mux, conn, "GET", "/v1/sorted", "ListSortedPositions", func(r *http.Request, p map[string]string, req *SortedPositionsRequest) (err error) {
		req.Limit, err = queryInt(r, "limit")
		return err
	}))
	add(route[InsertHintsRequest, InsertHintsResponse](mux, conn, "POST", "/v1/hints/insert", "GetInsertHints", bindBody[InsertHintsRequest]))
	add(route[RedemptionHintsRequest, RedemptionHintsResponse](mux, conn, "POST", "/v1/hints/redemption", "GetRedemptionHints", bindBody[RedemptionHintsRequest]))
	add(route[DepositRequest, core.DepositView](mux, conn, "GET", "/v1/deposits/{depositor}", "GetDeposit", func(r *http.Request, p map[string]string, req *DepositRequest) (err error) {
		req.Depositor, err = pathUUID(p, "depositor")
		return err
	}))
	add(route[FrontEndRequest, core.FrontEndView](mux, conn, "GET", "/v1/frontends/{id}", "GetFrontEnd", func(r *http.Request, p map[string]string, req *FrontEndRequest) (err error) {
		req.FrontEnd, err = pathUUID(p, "id")
		return err
	}))
	add(route[StakeRequest, core.StakeView](mux, conn, "GET", "/v1/stakes/{staker}", "GetStake", func(r *http.Request, p map[string]string, req *StakeRequest) (err error) {
		req.Staker, err = pathUUID(p, "staker")
		return err
	}))
	add(route[Empty, StabilityPoolResponse](mux, conn, "GET", "/v1/pool", "GetStabilityPool", bindNone[Empty]))
	add(route[BalanceRequest, BalanceResponse](mux, conn, "GET", "/v1/balances/{owner}/{asset}", "GetBalance", bindBalance))
	add(route[SurplusRequest, SurplusResponse](mux, conn, "GET", "/v1/surplus/{owner}", "GetCollateralSurplus", func(r *http.Request, p map[string]string, req *SurplusRequest) (err error) {
		req.Owner, err = pathUUID(p, "owner")
		return err
	}))
	add(route[Empty, RatesResponse](mux, conn, "GET", "/v1/rates", "GetRates", bindNone[Empty]))

	add(route[BalanceRequest, query.BalanceResponse](mux, conn, "GET", "/v1/history/balances/{owner}/{asset}", "GetProjectedBalance", bindBalance))
	add(route[ListPositionsRequest, ListPositionsResponse](mux, conn, "GET", "/v1/history/positions", "ListPositions", func(r *http.Request, p map[string]string, req *ListPositionsRequest) (err error) {
		req.Status = r.URL.Query().Get("status")
		req.Page, err = queryPage(r)
		return err
	}))
	add(route[ListLiquidationsRequest, ListLiquidationsResponse](mux, conn, "GET", "/v1/history/liquidations", "ListLiquidations", func(r *http.Request, p map[string]string, req *ListLiquidationsRequest) (err error) {
		if req.Position, err = queryUUID(r, "position"); err != nil {
			return err
		}
		req.Page, err = queryPage(r)
		return err
	}))
	add(route[ListRedemptionsRequest, ListRedemptionsResponse](mux, conn, "GET", "/v1/history/redemptions", "ListRedemptions", func(r *http.Request, p map[string]string, req *ListRedemptionsRequest) (err error) {
		if req.Redeemer, err = queryUUID(r, "redeemer"); err != nil {
			return err
		}
		req.Page, err = queryPage(r)
		return err
	}))
	add(route[JournalsRequest, JournalsResponse](mux, conn, "GET", "/v1/history/journals/{owner}", "ListJournals", func(r *http.Request, p map[string]string, req *JournalsRequest) (err error) {
		if req.Owner, err = pathUUID(p, "owner"); err != nil {
			return err
		}
		req.Page, err = queryPage(r)
		return err
	}))

	add(route[SubmitCommandRequest, SubmitCommandResponse](mux, conn, "POST", "/v1/commands/{command_type}", "SubmitCommand", func(r *http.Request, p map[string]string, req *SubmitCommandRequest) error {
		req.CommandType = p["command_type"]
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		if !json.Valid(payload) {
			return errors.New("payload is not valid JSON")
		}
		req.Payload = payload
		return nil
	}))

	add(route[Empty, TakeSnapshotResponse](mux, conn, "POST", "/v1/admin/snapshot", "AdminTakeSnapshot", bindNone[Empty]))
	add(route[Empty, RebuildProjectionsResponse](mux, conn, "POST", "/v1/admin/rebuild", "AdminRebuildProjections", bindNone[Empty]))
	add(route[Empty, EventLogInfoResponse](mux, conn, "GET", "/v1/admin/eventlog", "AdminGetEventLogInfo", bindNone[Empty]))
	add(route[Empty, VerifyIntegrityResponse](mux, conn, "GET", "/v1/admin/integrity", "AdminVerifyIntegrity", bindNone[Empty]))

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("register gateway routes: %w", err)
	}
	return mux, nil
}

// route registers one HTTP pattern forwarding to rpc.
func route[Req, Resp any](mux *runtime.ServeMux, conn grpc.ClientConnInterface, method, pattern, rpc string, bind binder[Req]) error {
	return mux.HandlePath(method, pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		ctx := forwardAuth(r)
		_, outbound := runtime.MarshalerForRequest(mux, r)

		req := new(Req)
		if err := bind(r, params, req); err != nil {
			runtime.HTTPError(ctx, mux, outbound, w, r, status.Error(codes.InvalidArgument, err.Error()))
			return
		}
		resp := new(Resp)
		if err := conn.Invoke(ctx, FullMethod(rpc), req, resp, CallOption()); err != nil {
			runtime.HTTPError(ctx, mux, outbound, w, r, err)
			return
		}
		buf, err := outbound.Marshal(resp)
		if err != nil {
			runtime.HTTPError(ctx, mux, outbound, w, r, status.Error(codes.Internal, err.Error()))
			return
		}
		w.Header().Set("Content-Type", outbound.ContentType(resp))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf)
	})
}

func forwardAuth(r *http.Request) context.Context {
	ctx := r.Context()
	if h := r.Header.Get("Authorization"); h != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", h)
	}
	return ctx
}

func bindNone[Req any](*http.Request, map[string]string, *Req) error { return nil }

// bindBody decodes a JSON body; an empty body leaves req zero.
func bindBody[Req any](r *http.Request, _ map[string]string, req *Req) error {
	err := (&runtime.JSONBuiltin{}).NewDecoder(r.Body).Decode(req)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func bindBalance(r *http.Request, p map[string]string, req *BalanceRequest) (err error) {
	req.Asset = p["asset"]
	req.Owner, err = pathUUID(p, "owner")
	return err
}

func pathUUID(p map[string]string, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(p[name])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", name, err)
	}
	return id, nil
}

// queryUUID returns uuid.Nil when the parameter is absent.
func queryUUID(r *http.Request, name string) (uuid.UUID, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", name, err)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func queryPage(r *http.Request) (query.Page, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return query.Page{}, err
	}
	var before int64
	if v := r.URL.Query().Get("before"); v != "" {
		if before, err = strconv.ParseInt(v, 10, 64); err != nil {
			return query.Page{}, fmt.Errorf("before: %w", err)
		}
	}
	return query.Page{Limit: limit, Before: before}, nil
}
