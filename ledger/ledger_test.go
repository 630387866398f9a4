package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = common.HexToAddress("0xA1")
	tokenB = common.HexToAddress("0xA2")
	alice  = common.HexToAddress("0x11")
	bob    = common.HexToAddress("0x12")
	carol  = common.HexToAddress("0x13")
)

func TestMintAndBalance(t *testing.T) {
	led := New()
	led.Mint(tokenA, alice, big.NewInt(100))
	led.Mint(tokenA, alice, big.NewInt(50))

	assert.Equal(t, int64(150), led.BalanceOf(tokenA, alice).Int64())
	assert.Equal(t, int64(0), led.BalanceOf(tokenA, bob).Int64())
	assert.Equal(t, int64(0), led.BalanceOf(tokenB, alice).Int64())
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	led := New()
	led.Mint(tokenA, alice, big.NewInt(100))

	bal := led.BalanceOf(tokenA, alice)
	bal.SetInt64(0)

	assert.Equal(t, int64(100), led.BalanceOf(tokenA, alice).Int64())
}

func TestTransfer(t *testing.T) {
	led := New()
	led.Mint(tokenA, alice, big.NewInt(100))

	require.NoError(t, led.Transfer(tokenA, alice, bob, big.NewInt(60)))
	assert.Equal(t, int64(40), led.BalanceOf(tokenA, alice).Int64())
	assert.Equal(t, int64(60), led.BalanceOf(tokenA, bob).Int64())

	err := led.Transfer(tokenA, alice, bob, big.NewInt(41))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(40), led.BalanceOf(tokenA, alice).Int64())
}

func TestBurn(t *testing.T) {
	led := New()
	led.Mint(tokenA, alice, big.NewInt(100))

	require.NoError(t, led.Burn(tokenA, alice, big.NewInt(30)))
	assert.Equal(t, int64(70), led.BalanceOf(tokenA, alice).Int64())

	err := led.Burn(tokenA, alice, big.NewInt(71))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(70), led.BalanceOf(tokenA, alice).Int64())
}

func TestApproveReplacesGrant(t *testing.T) {
	led := New()
	led.Approve(tokenA, alice, bob, big.NewInt(100))
	led.Approve(tokenA, alice, bob, big.NewInt(30))

	assert.Equal(t, int64(30), led.Allowance(tokenA, alice, bob).Int64())
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	led := New()
	led.Mint(tokenA, alice, big.NewInt(100))
	led.Approve(tokenA, alice, bob, big.NewInt(70))

	require.NoError(t, led.TransferFrom(tokenA, bob, alice, carol, big.NewInt(50)))
	assert.Equal(t, int64(50), led.BalanceOf(tokenA, carol).Int64())
	assert.Equal(t, int64(20), led.Allowance(tokenA, alice, bob).Int64())

	err := led.TransferFrom(tokenA, bob, alice, carol, big.NewInt(21))
	require.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestTransferFromRequiresBalance(t *testing.T) {
	led := New()
	led.Approve(tokenA, alice, bob, big.NewInt(100))

	err := led.TransferFrom(tokenA, bob, alice, carol, big.NewInt(10))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(100), led.Allowance(tokenA, alice, bob).Int64(),
		"failed pull must not burn allowance")
}

func TestNativeTransfer(t *testing.T) {
	led := New()
	led.MintNative(alice, big.NewInt(10))

	require.NoError(t, led.TransferNative(alice, bob, big.NewInt(4)))
	assert.Equal(t, int64(6), led.NativeBalanceOf(alice).Int64())
	assert.Equal(t, int64(4), led.NativeBalanceOf(bob).Int64())

	err := led.TransferNative(alice, bob, big.NewInt(7))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestSnapshotRestore(t *testing.T) {
	led := New()
	led.Mint(tokenA, alice, big.NewInt(100))
	led.MintNative(alice, big.NewInt(5))
	led.Approve(tokenA, alice, bob, big.NewInt(40))

	snap := led.Snapshot()

	require.NoError(t, led.Transfer(tokenA, alice, bob, big.NewInt(80)))
	require.NoError(t, led.TransferFrom(tokenA, bob, alice, carol, big.NewInt(20)))
	led.Mint(tokenB, carol, big.NewInt(999))
	led.MintNative(bob, big.NewInt(3))

	led.Restore(snap)

	assert.Equal(t, int64(100), led.BalanceOf(tokenA, alice).Int64())
	assert.Equal(t, int64(0), led.BalanceOf(tokenA, bob).Int64())
	assert.Equal(t, int64(0), led.BalanceOf(tokenB, carol).Int64())
	assert.Equal(t, int64(40), led.Allowance(tokenA, alice, bob).Int64())
	assert.Equal(t, int64(5), led.NativeBalanceOf(alice).Int64())
	assert.Equal(t, int64(0), led.NativeBalanceOf(bob).Int64())
}

func TestSnapshotIsIsolated(t *testing.T) {
	led := New()
	led.Mint(tokenA, alice, big.NewInt(100))

	snap := led.Snapshot()
	require.NoError(t, led.Transfer(tokenA, alice, bob, big.NewInt(100)))

	// mutations after the snapshot must not leak into it
	led.Restore(snap)
	assert.Equal(t, int64(100), led.BalanceOf(tokenA, alice).Int64())

	require.NoError(t, led.Transfer(tokenA, alice, bob, big.NewInt(10)))
	led.Restore(snap)
	assert.Equal(t, int64(100), led.BalanceOf(tokenA, alice).Int64())
}
