package blocks

import (
	"github.com/emmalab/fogsim/internal/netem"
	"github.com/emmalab/fogsim/internal/units"
)

// NodeFactory builds nodes with realistic hardware profiles, from cloud
// VMs down to single-board computers and embedded AI devices. Names come
// from the injected namer.
type NodeFactory struct {
	namer *Namer
}

func NewNodeFactory(namer *Namer) *NodeFactory {
	return &NodeFactory{namer: namer}
}

// Namer returns the namer shared by nodes and cells built for a scenario.
func (f *NodeFactory) Namer() *Namer {
	return f.namer
}

func (f *NodeFactory) newNode(kind string, cpus int, arch, mem string, labels map[string]string) *netem.Node {
	node := netem.NewNode(f.namer.Next(kind))
	node.Capacity = netem.Capacity{CPUMillis: int64(cpus) * 1000, Memory: units.MustParse(mem)}
	node.Arch = arch
	node.Labels = labels
	return node
}

// VM builds a typical 4-core cloud VM.
func (f *NodeFactory) VM() *netem.Node {
	return f.newNode("cloudvm", 4, "x86", "8167784Ki", map[string]string{
		LabelType:  "vm",
		LabelModel: "vm",
	})
}

// Server builds an 88-core rack server.
func (f *NodeFactory) Server() *netem.Node {
	return f.newNode("server", 88, "x86", "188G", map[string]string{
		LabelType:  "server",
		LabelModel: "server",
	})
}

// RPi3 builds a Raspberry Pi 3 Model B+.
func (f *NodeFactory) RPi3() *netem.Node {
	return f.newNode("rpi3", 4, "arm32", "999036Ki", map[string]string{
		LabelType:  "sbc",
		LabelModel: "rpi3b+",
	})
}

// RPi4 builds a Raspberry Pi 4.
func (f *NodeFactory) RPi4() *netem.Node {
	return f.newNode("rpi4", 4, "arm32v7", "1G", map[string]string{
		LabelType:  "sbc",
		LabelModel: "rpi4",
	})
}

// NUC builds an Intel NUC small form factor computer.
func (f *NodeFactory) NUC() *netem.Node {
	return f.newNode("nuc", 4, "x86", "16Gi", map[string]string{
		LabelType:  "sffc",
		LabelModel: "nuci5",
	})
}

// TX2 builds an NVIDIA Jetson TX2 embedded AI device.
func (f *NodeFactory) TX2() *netem.Node {
	return f.newNode("tx2", 4, "aarch64", "8047252Ki", map[string]string{
		LabelType:  "embai",
		LabelModel: "nvidia_jetson_tx2",
		LabelCUDA:  "10",
		LabelGPU:   "pascal",
	})
}

// RockPi builds a Rock Pi 4 single-board computer.
func (f *NodeFactory) RockPi() *netem.Node {
	return f.newNode("rockpi", 6, "aarch64", "4G", map[string]string{
		LabelType:  "sbc",
		LabelModel: "rockpi4",
	})
}

// Coral builds a Google Coral dev board with an Edge TPU.
func (f *NodeFactory) Coral() *netem.Node {
	return f.newNode("coral", 4, "aarch64", "1G", map[string]string{
		LabelType:  "sbc",
		LabelModel: "coral",
		LabelTPU:   "edgetpu",
	})
}

// Nano builds an NVIDIA Jetson Nano.
func (f *NodeFactory) Nano() *netem.Node {
	return f.newNode("nano", 4, "aarch64", "4G", map[string]string{
		LabelType:  "embai",
		LabelModel: "nvidia_jetson_nano",
		LabelCUDA:  "10",
		LabelGPU:   "maxwell",
	})
}

// NX builds an NVIDIA Jetson Xavier NX.
func (f *NodeFactory) NX() *netem.Node {
	return f.newNode("nx", 6, "aarch64", "8G", map[string]string{
		LabelType:  "embai",
		LabelModel: "nvidia_jetson_nx",
		LabelCUDA:  "10",
		LabelGPU:   "volta",
	})
}
