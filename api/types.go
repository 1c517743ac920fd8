package api

// NetworkInfo is the answer to GET info.
type NetworkInfo struct {
	Network          string `json:"network"`
	Version          int64  `json:"version"`
	Release          int64  `json:"release"`
	Height           int64  `json:"height"`
	Current          string `json:"current"`
	Blocks           int64  `json:"blocks"`
	Peers            int64  `json:"peers"`
	QueueLength      int64  `json:"queue_length"`
	NodeStateLatency int64  `json:"node_state_latency"`
}

// Tag is a base64url name/value pair as it appears in blocks.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Block is the answer to GET block/hash/{h} and block/height/{n}.
// Fields whose JSON type changed between node releases are left
// undecoded.
type Block struct {
	Nonce          string      `json:"nonce"`
	PreviousBlock  string      `json:"previous_block"`
	Timestamp      int64       `json:"timestamp"`
	LastRetarget   int64       `json:"last_retarget"`
	Diff           interface{} `json:"diff"`
	Height         int64       `json:"height"`
	Hash           string      `json:"hash"`
	IndepHash      string      `json:"indep_hash"`
	Txs            []string    `json:"txs"`
	TxRoot         string      `json:"tx_root"`
	WalletList     string      `json:"wallet_list"`
	RewardAddr     string      `json:"reward_addr"`
	Tags           []Tag       `json:"tags"`
	RewardPool     interface{} `json:"reward_pool"`
	WeaveSize      interface{} `json:"weave_size"`
	BlockSize      interface{} `json:"block_size"`
	CumulativeDiff interface{} `json:"cumulative_diff"`
	HashListMerkle string      `json:"hash_list_merkle"`
}

// Confirmation is where a mined transaction landed.
type Confirmation struct {
	BlockIndepHash        string `json:"block_indep_hash"`
	BlockHeight           int64  `json:"block_height"`
	NumberOfConfirmations int64  `json:"number_of_confirmations"`
}

// TxStatus is the answer to GET tx/{id}/status.  Confirmed is nil
// unless the status is 200.
type TxStatus struct {
	Status    int           `json:"status"`
	Confirmed *Confirmation `json:"confirmed"`
}

// TxOffset locates a transaction's data in the weave.  Offset is the
// absolute offset of its last byte.
type TxOffset struct {
	Size   int64 `json:"size,string"`
	Offset int64 `json:"offset,string"`
}

// FirstChunkOffset returns the absolute offset of the first data byte.
func (o *TxOffset) FirstChunkOffset() int64 {
	return o.Offset - o.Size + 1
}

// ChunkResponse is the answer to GET chunk/{offset}.
type ChunkResponse struct {
	Chunk    string `json:"chunk"`
	DataPath string `json:"data_path"`
	TxPath   string `json:"tx_path"`
}

// ChunkPayload is the body of POST chunk.
type ChunkPayload struct {
	DataRoot string `json:"data_root"`
	DataSize string `json:"data_size"`
	DataPath string `json:"data_path"`
	Offset   string `json:"offset"`
	Chunk    string `json:"chunk"`
}
