package main

import (
	"encoding/gob"
	"log"
	"net"

	"github.com/lwkcore/core/internal/wire"
)

// Client mirrors the teacher client's encoder/decoder pair over one
// persistent unix-socket connection to lwkschedd.
type Client struct {
	c  net.Conn
	gw *gob.Encoder
	gr *gob.Decoder
}

func NewClient(socketPath string) *Client {
	c, err := net.Dial("unix", socketPath)
	if err != nil {
		log.Fatalf("connecting to lwkschedd at %s: %v (is the daemon running?)", socketPath, err)
	}
	return &Client{c: c, gw: gob.NewEncoder(c), gr: gob.NewDecoder(c)}
}

func (c *Client) Close() { c.c.Close() }

func (c *Client) do(action interface{}, response interface{}) {
	if err := c.gw.Encode(wire.Request{Action: action}); err != nil {
		log.Fatal(err)
	}
	if err := c.gr.Decode(response); err != nil {
		log.Fatal(err)
	}
}

func (c *Client) SetCloneAttr(pid int, attr wire.ActionSetCloneAttr) wire.ActionSetCloneAttrResponse {
	attr.PID = pid
	var resp wire.ActionSetCloneAttrResponse
	c.do(attr, &resp)
	return resp
}

func (c *Client) Yield(pid, cpu int) wire.ActionYieldResponse {
	var resp wire.ActionYieldResponse
	c.do(wire.ActionYield{PID: pid, CPU: cpu}, &resp)
	return resp
}

func (c *Client) ConfigSet(pid int, yamlDoc []byte) wire.ActionConfigSetResponse {
	var resp wire.ActionConfigSetResponse
	c.do(wire.ActionConfigSet{PID: pid, YAML: yamlDoc}, &resp)
	return resp
}

func (c *Client) ConfigGet(pid int) wire.ActionConfigGetResponse {
	var resp wire.ActionConfigGetResponse
	c.do(wire.ActionConfigGet{PID: pid}, &resp)
	return resp
}

func (c *Client) RegisterProcess(pid int, lwkCPUs, sharedUtil []int) wire.ActionRegisterProcessResponse {
	var resp wire.ActionRegisterProcessResponse
	c.do(wire.ActionRegisterProcess{PID: pid, LWKCPUs: lwkCPUs, SharedUtil: sharedUtil}, &resp)
	return resp
}

func (c *Client) Fork(callerPID, childPID int, sameThreadGroup bool) wire.ActionForkResponse {
	var resp wire.ActionForkResponse
	c.do(wire.ActionFork{CallerPID: callerPID, ChildPID: childPID, SameThreadGroup: sameThreadGroup}, &resp)
	return resp
}

func (c *Client) List() wire.ActionListResponse {
	var resp wire.ActionListResponse
	c.do(wire.ActionList{}, &resp)
	return resp
}

func (c *Client) Stats(cpu int) wire.ActionStatsResponse {
	var resp wire.ActionStatsResponse
	c.do(wire.ActionStats{CPU: cpu}, &resp)
	return resp
}
