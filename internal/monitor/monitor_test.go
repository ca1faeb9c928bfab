package monitor

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"rangekeeper/internal/chain"
	"rangekeeper/internal/dex"
	"rangekeeper/internal/model"
	"rangekeeper/internal/rebalance"
	"rangekeeper/internal/swap"
)

var (
	tToken0  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tToken1  = common.HexToAddress("0x1000000000000000000000000000000000000002")
	tPool    = common.HexToAddress("0x2000000000000000000000000000000000000001")
	tManager = common.HexToAddress("0x3000000000000000000000000000000000000001")
	tGauge   = common.HexToAddress("0x4000000000000000000000000000000000000001")
	tAccount = common.HexToAddress("0x5000000000000000000000000000000000000001")
	tFactory = common.HexToAddress("0x6000000000000000000000000000000000000001")
)

// worldCaller answers contract reads for a one-pool, one-gauge world.
type worldCaller struct {
	ownedIDs  []int64
	stakedIDs []int64
	tick      int64
	lower     int64
	upper     int64
}

func (c *worldCaller) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	erc20ABI, _ := dex.ERC20ABI()
	poolABI, _ := dex.V3PoolABI()
	nfpmABI, _ := dex.PositionManagerABI()
	gaugeABI, _ := dex.GaugeABI()

	if len(msg.Data) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	sel := msg.Data[:4]

	switch *msg.To {
	case tManager:
		switch {
		case bytes.Equal(sel, nfpmABI.Methods["balanceOf"].ID):
			return nfpmABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(int64(len(c.ownedIDs))))
		case bytes.Equal(sel, nfpmABI.Methods["tokenOfOwnerByIndex"].ID):
			index := new(big.Int).SetBytes(msg.Data[len(msg.Data)-32:])
			return nfpmABI.Methods["tokenOfOwnerByIndex"].Outputs.Pack(big.NewInt(c.ownedIDs[index.Int64()]))
		case bytes.Equal(sel, nfpmABI.Methods["positions"].ID):
			return nfpmABI.Methods["positions"].Outputs.Pack(
				big.NewInt(0), common.Address{}, tToken0, tToken1,
				big.NewInt(60), big.NewInt(c.lower), big.NewInt(c.upper),
				big.NewInt(1_000), big.NewInt(0), big.NewInt(0),
				big.NewInt(0), big.NewInt(0))
		case bytes.Equal(sel, nfpmABI.Methods["getApproved"].ID):
			return nfpmABI.Methods["getApproved"].Outputs.Pack(common.Address{})
		}

	case tGauge:
		switch {
		case bytes.Equal(sel, gaugeABI.Methods["pool"].ID):
			return gaugeABI.Methods["pool"].Outputs.Pack(tPool)
		case bytes.Equal(sel, gaugeABI.Methods["stakedValues"].ID):
			staked := make([]*big.Int, 0, len(c.stakedIDs))
			for _, id := range c.stakedIDs {
				staked = append(staked, big.NewInt(id))
			}
			return gaugeABI.Methods["stakedValues"].Outputs.Pack(staked)
		case bytes.Equal(sel, gaugeABI.Methods["earned"].ID):
			return gaugeABI.Methods["earned"].Outputs.Pack(big.NewInt(5))
		}

	case tPool:
		switch {
		case bytes.Equal(sel, poolABI.Methods["token0"].ID):
			return poolABI.Methods["token0"].Outputs.Pack(tToken0)
		case bytes.Equal(sel, poolABI.Methods["token1"].ID):
			return poolABI.Methods["token1"].Outputs.Pack(tToken1)
		case bytes.Equal(sel, poolABI.Methods["fee"].ID):
			return poolABI.Methods["fee"].Outputs.Pack(big.NewInt(500))
		case bytes.Equal(sel, poolABI.Methods["tickSpacing"].ID):
			return poolABI.Methods["tickSpacing"].Outputs.Pack(big.NewInt(60))
		case bytes.Equal(sel, poolABI.Methods["slot0"].ID):
			sqrt := new(big.Int).Lsh(big.NewInt(1), 96)
			return poolABI.Methods["slot0"].Outputs.Pack(
				sqrt, big.NewInt(c.tick), uint16(0), uint16(0), uint16(0), uint8(0), true)
		}

	case tToken0, tToken1:
		switch {
		case bytes.Equal(sel, erc20ABI.Methods["decimals"].ID):
			return erc20ABI.Methods["decimals"].Outputs.Pack(uint8(6))
		case bytes.Equal(sel, erc20ABI.Methods["symbol"].ID):
			return erc20ABI.Methods["symbol"].Outputs.Pack("TOK")
		case bytes.Equal(sel, erc20ABI.Methods["balanceOf"].ID):
			return erc20ABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(0))
		case bytes.Equal(sel, erc20ABI.Methods["allowance"].ID):
			max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
			return erc20ABI.Methods["allowance"].Outputs.Pack(max)
		}
	}

	return nil, fmt.Errorf("unexpected call %x to %s", sel, msg.To.Hex())
}

type countingSender struct {
	sent []chain.TxRequest
}

func (s *countingSender) Address() common.Address {
	return tAccount
}

func (s *countingSender) SendAndWait(_ context.Context, req chain.TxRequest) (*types.Receipt, error) {
	s.sent = append(s.sent, req)
	return &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: common.HexToHash(fmt.Sprintf("0x%064x", len(s.sent))),
	}, nil
}

type capturingRecorder struct {
	snapshots []model.CycleSnapshot
}

func (r *capturingRecorder) RecordCycle(_ context.Context, snapshot model.CycleSnapshot) error {
	r.snapshots = append(r.snapshots, snapshot)
	return nil
}

func newTestMonitor(caller *worldCaller, sender *countingSender, recorder *capturingRecorder, cfg Config) *Monitor {
	manager := dex.NewPositionManager(tManager, caller)
	locator := dex.NewPoolLocator([]common.Address{tFactory}, []uint32{500}, caller)
	approvals := swap.NewApprovalManager(caller, sender, common.Address{}, nil)
	tokens := dex.NewTokenMetaCache()
	machine := rebalance.NewMachine(caller, sender, manager, nil, approvals, tokens,
		300, 20, rebalance.SettleDelays{}, nil)

	return New(caller, manager, locator, machine, tAccount, []common.Address{tGauge},
		dex.NewPoolMetaCache(), tokens, cfg, recorder, nil)
}

func TestRunCycleStakesInRangePosition(t *testing.T) {
	caller := &worldCaller{ownedIDs: []int64{7}, tick: 0, lower: -60, upper: 60}
	sender := &countingSender{}
	recorder := &capturingRecorder{}
	mon := newTestMonitor(caller, sender, recorder, Config{RebalanceThreshold: 20})

	if err := mon.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if len(recorder.snapshots) != 1 {
		t.Fatalf("recorded %d snapshots, want 1", len(recorder.snapshots))
	}
	snap := recorder.snapshots[0]
	if len(snap.Positions) != 1 {
		t.Fatalf("observed %d positions, want 1", len(snap.Positions))
	}
	pos := snap.Positions[0]
	if !pos.InRange || pos.Staked {
		t.Fatalf("position should be in range and unstaked: %+v", pos)
	}

	wantAction := "stake:7"
	if len(snap.Actions) != 1 || snap.Actions[0] != wantAction {
		t.Fatalf("actions %v, want [%s]", snap.Actions, wantAction)
	}
	// NFT approve then gauge deposit.
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d transactions, want 2", len(sender.sent))
	}
	if sender.sent[1].To != tGauge {
		t.Fatalf("deposit went to %s", sender.sent[1].To.Hex())
	}
}

func TestRunCycleStakedInRangeIsIdle(t *testing.T) {
	caller := &worldCaller{stakedIDs: []int64{7}, tick: 0, lower: -60, upper: 60}
	sender := &countingSender{}
	recorder := &capturingRecorder{}
	mon := newTestMonitor(caller, sender, recorder, Config{AutoRebalance: true, RebalanceThreshold: 20})

	if err := mon.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	snap := recorder.snapshots[0]
	if len(snap.Actions) != 0 {
		t.Fatalf("a healthy staked position needs no action, got %v", snap.Actions)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("no transactions expected, sent %d", len(sender.sent))
	}
	pos := snap.Positions[0]
	if !pos.Staked || !pos.InRange {
		t.Fatalf("position state: %+v", pos)
	}
	if pos.Earned != "5" {
		t.Fatalf("earned %q, want 5", pos.Earned)
	}
}

func TestRunCycleBelowThresholdDoesNotRebalance(t *testing.T) {
	// Out of range by 10 ticks on a 120-wide range is ~8.3 percent,
	// under the 20 percent trigger.
	caller := &worldCaller{stakedIDs: []int64{7}, tick: 70, lower: -60, upper: 60}
	sender := &countingSender{}
	recorder := &capturingRecorder{}
	mon := newTestMonitor(caller, sender, recorder, Config{AutoRebalance: true, RebalanceThreshold: 20})

	if err := mon.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	snap := recorder.snapshots[0]
	if len(snap.Actions) != 0 {
		t.Fatalf("no rebalance under threshold, got %v", snap.Actions)
	}
	pos := snap.Positions[0]
	if pos.InRange {
		t.Fatalf("tick 70 is outside [-60, 60)")
	}
	if pos.PercentOut < 8.2 || pos.PercentOut > 8.4 {
		t.Fatalf("percent out %v, want ~8.3", pos.PercentOut)
	}
}

func TestPercentOut(t *testing.T) {
	r := model.TickRange{Lower: -60, Upper: 60}
	cases := []struct {
		tick int
		want float64
	}{
		{tick: 0, want: 0},
		{tick: -60, want: 0},
		{tick: 59, want: 0},
		{tick: 60, want: 0},
		{tick: -61, want: 100.0 / 120},
		{tick: 120, want: 50},
		{tick: -180, want: 100},
	}
	for _, tc := range cases {
		got := percentOut(tc.tick, r)
		if diff := got - tc.want; diff > 0.001 || diff < -0.001 {
			t.Fatalf("percentOut(%d) = %v, want %v", tc.tick, got, tc.want)
		}
	}
}
