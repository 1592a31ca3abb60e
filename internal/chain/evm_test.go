package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
)

// asm assembles the small contracts the client tests deploy.
type asm struct {
	code   []byte
	labels map[string]int
	fixups map[int]string
}

func newAsm() *asm {
	return &asm{labels: make(map[string]int), fixups: make(map[int]string)}
}

func (a *asm) op(ops ...vm.OpCode) *asm {
	for _, o := range ops {
		a.code = append(a.code, byte(o))
	}
	return a
}

// push emits the shortest PUSHn for b.
func (a *asm) push(b []byte) *asm {
	if len(b) == 0 || len(b) > 32 {
		panic(fmt.Sprintf("push of %d bytes", len(b)))
	}
	a.code = append(a.code, byte(vm.PUSH1)+byte(len(b)-1))
	a.code = append(a.code, b...)
	return a
}

func (a *asm) push1(v byte) *asm {
	return a.push([]byte{v})
}

func (a *asm) push2(v int) *asm {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	return a.push(b[:])
}

// pushLabel emits a PUSH2 of the label offset, resolved by bytes.
func (a *asm) pushLabel(name string) *asm {
	a.code = append(a.code, byte(vm.PUSH2))
	a.fixups[len(a.code)] = name
	a.code = append(a.code, 0, 0)
	return a
}

// label marks a jump target.
func (a *asm) label(name string) *asm {
	a.mark(name)
	return a.op(vm.JUMPDEST)
}

// mark records the current offset without emitting code.
func (a *asm) mark(name string) *asm {
	a.labels[name] = len(a.code)
	return a
}

func (a *asm) jumpi(name string) *asm {
	return a.pushLabel(name).op(vm.JUMPI)
}

func (a *asm) raw(b []byte) *asm {
	a.code = append(a.code, b...)
	return a
}

func (a *asm) bytes() []byte {
	out := append([]byte(nil), a.code...)
	for at, name := range a.fixups {
		offset, ok := a.labels[name]
		if !ok {
			panic("undefined label " + name)
		}
		binary.BigEndian.PutUint16(out[at:], uint16(offset))
	}
	return out
}

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// selectorOnStack leaves the 4-byte call selector on the stack.
func (a *asm) selectorOnStack() *asm {
	return a.push1(0).op(vm.CALLDATALOAD).push1(0xe0).op(vm.SHR)
}

// dispatch jumps to name when the selector on the stack matches sig.
func (a *asm) dispatch(sig, name string) *asm {
	return a.op(vm.DUP1).push(selector(sig)).op(vm.EQ).jumpi(name)
}

func (a *asm) revert() *asm {
	return a.push1(0).op(vm.DUP1, vm.REVERT)
}

// returnWord returns the word on top of the stack.
func (a *asm) returnWord() *asm {
	return a.push1(0).op(vm.MSTORE).push1(0x20).push1(0).op(vm.RETURN)
}

// returnString returns s ABI-encoded as a string. s must fit one word.
func (a *asm) returnString(s string) *asm {
	word := make([]byte, 32)
	copy(word, s)
	a.push1(0x20).push1(0).op(vm.MSTORE)
	a.push1(byte(len(s))).push1(0x20).op(vm.MSTORE)
	a.push(word).push1(0x40).op(vm.MSTORE)
	return a.push1(0x60).push1(0).op(vm.RETURN)
}

// creation wraps runtime in init code. ctor runs first and may read the
// constructor arguments, which start at the "end" label.
func creation(ctor func(a *asm), runtime []byte) []byte {
	a := newAsm()
	if ctor != nil {
		ctor(a)
	}
	a.push2(len(runtime)).pushLabel("runtime").push1(0).op(vm.CODECOPY)
	a.push2(len(runtime)).push1(0).op(vm.RETURN)
	a.mark("runtime").raw(runtime).mark("end")
	return a.bytes()
}

// storeFirstArg stores the first constructor argument word at slot.
func storeFirstArg(slot common.Hash) func(a *asm) {
	return func(a *asm) {
		a.push1(0x20).pushLabel("end").push1(0).op(vm.CODECOPY)
		a.push1(0).op(vm.MLOAD).push(slot.Bytes()).op(vm.SSTORE)
	}
}

// stopRuntime is a logic contract without any behaviour.
var stopRuntime = []byte{byte(vm.STOP)}

// proxyRuntime upgrades itself by writing the first call argument to the
// implementation slot. v5 proxies take upgradeToAndCall and report
// UPGRADE_INTERFACE_VERSION, v4 proxies take upgradeTo. A non-nil admin
// restricts upgrades to calls from admin.
func proxyRuntime(v5 bool, admin *common.Address) []byte {
	upgradeSig := "upgradeTo(address)"
	if v5 {
		upgradeSig = "upgradeToAndCall(address,bytes)"
	}
	a := newAsm().selectorOnStack()
	if v5 {
		a.dispatch("UPGRADE_INTERFACE_VERSION()", "version")
	}
	a.dispatch(upgradeSig, "upgrade")
	a.revert()

	a.label("upgrade")
	if admin != nil {
		a.op(vm.CALLER).push(admin.Bytes()).op(vm.EQ, vm.ISZERO).jumpi("fail")
	}
	a.push1(4).op(vm.CALLDATALOAD).push(ImplementationSlot.Bytes()).op(vm.SSTORE, vm.STOP)

	a.label("version").returnString(upgradeInterfaceV5)
	a.label("fail").revert()
	return a.bytes()
}

// proxyAdminRuntime forwards upgradeAndCall (v5) or upgrade (v4) to the
// proxy as upgradeToAndCall or upgradeTo with the new implementation.
func proxyAdminRuntime(v5 bool) []byte {
	upgradeSig, forwardSig := "upgrade(address,address)", "upgradeTo(address)"
	if v5 {
		upgradeSig, forwardSig = "upgradeAndCall(address,address,bytes)", "upgradeToAndCall(address,bytes)"
	}
	forward := make([]byte, 32)
	copy(forward, selector(forwardSig))

	a := newAsm().selectorOnStack()
	if v5 {
		a.dispatch("UPGRADE_INTERFACE_VERSION()", "version")
	}
	a.dispatch(upgradeSig, "upgrade")
	a.revert()

	a.label("upgrade")
	a.push(forward).push1(0).op(vm.MSTORE)
	a.push1(0x24).op(vm.CALLDATALOAD).push1(4).op(vm.MSTORE)
	// call(gas, proxy, 0, 0, 0x24, 0, 0)
	a.push1(0).push1(0).push1(0x24).push1(0).push1(0)
	a.push1(4).op(vm.CALLDATALOAD)
	a.op(vm.GAS, vm.CALL, vm.ISZERO).jumpi("fail")
	a.op(vm.STOP)

	a.label("version").returnString(upgradeInterfaceV5)
	a.label("fail").revert()
	return a.bytes()
}

// beaconRuntime keeps the implementation in slot 0.
func beaconRuntime() []byte {
	a := newAsm().selectorOnStack()
	a.dispatch("implementation()", "implementation")
	a.dispatch("upgradeTo(address)", "upgrade")
	a.revert()

	a.label("implementation").push1(0).op(vm.SLOAD).returnWord()
	a.label("upgrade").push1(4).op(vm.CALLDATALOAD).push1(0).op(vm.SSTORE, vm.STOP)
	return a.bytes()
}

// tokenRuntime serves FACTORY_ROLE and a role registry keyed by account.
// With grants false, grantRole succeeds without recording anything.
func tokenRuntime(role common.Hash, grants bool) []byte {
	a := newAsm().selectorOnStack()
	a.dispatch("FACTORY_ROLE()", "role")
	a.dispatch("grantRole(bytes32,address)", "grant")
	a.dispatch("hasRole(bytes32,address)", "has")
	a.revert()

	a.label("role").push(role.Bytes()).returnWord()
	a.label("grant")
	if grants {
		a.push1(1).push1(0x24).op(vm.CALLDATALOAD).op(vm.SSTORE)
	}
	a.op(vm.STOP)
	a.label("has").push1(0x24).op(vm.CALLDATALOAD).op(vm.SLOAD).returnWord()
	return a.bytes()
}
