package tl

import "fmt"

// Constructor ids are the CRC32 of the normalized schema line.
const (
	IDBlockID        uint32 = 0xb7cdb167
	IDBlockIDExt     uint32 = 0x6752eb78
	IDZeroStateIDExt uint32 = 0x1d7235ae
	IDPubEd25519     uint32 = 0x4813b4c6

	IDAdnlMessageQuery  uint32 = 0xb48bf97a
	IDAdnlMessageAnswer uint32 = 0x0fac8416
	IDTCPPing           uint32 = 0x4d082b9a
	IDTCPPong           uint32 = 0xdc69fb03

	IDLiteServerQuery       uint32 = 0x798c06df
	IDWaitMasterchainSeqno  uint32 = 0xbaeab892
	IDError                 uint32 = 0xbba9e148
	IDAccountID             uint32 = 0x75a0e2c5
	IDMasterchainInfo       uint32 = 0x85832881
	IDCurrentTime           uint32 = 0xe953000d
	IDVersion               uint32 = 0x5a0491e5
	IDBlockHeader           uint32 = 0x752d8219
	IDSendMsgStatus         uint32 = 0x3950e597
	IDAccountState          uint32 = 0x7079c751
	IDRunMethodResult       uint32 = 0xa39a616b
	IDTransactionList       uint32 = 0x6f26c60b
	IDTransactionID3        uint32 = 0x2c81da77
	IDBlockTransactionsExt  uint32 = 0xfb8ffce4
	IDAllShardsInfo         uint32 = 0x098fe72d
	IDConfigInfo            uint32 = 0xae7b272f
	IDGetMasterchainInfo    uint32 = 0x89b5e62e
	IDGetTime               uint32 = 0x16ad5a34
	IDGetVersion            uint32 = 0x232b940b
	IDGetBlockHeader        uint32 = 0x21ec069e
	IDSendMessage           uint32 = 0x690ad482
	IDGetAccountState       uint32 = 0x6b890e25
	IDRunSmcMethod          uint32 = 0x5cc65dd2
	IDGetAllShardsInfo      uint32 = 0x74d3fd6b
	IDGetTransactions       uint32 = 0x1c40e7a1
	IDLookupBlock           uint32 = 0xfac8f71e
	IDListBlockTransactions uint32 = 0x0079dd5c
	IDGetConfigAll          uint32 = 0x911b26b7
)

var names = map[uint32]string{
	IDBlockID:               "tonNode.blockId",
	IDBlockIDExt:            "tonNode.blockIdExt",
	IDZeroStateIDExt:        "tonNode.zeroStateIdExt",
	IDPubEd25519:            "pub.ed25519",
	IDAdnlMessageQuery:      "adnl.message.query",
	IDAdnlMessageAnswer:     "adnl.message.answer",
	IDTCPPing:               "tcp.ping",
	IDTCPPong:               "tcp.pong",
	IDLiteServerQuery:       "liteServer.query",
	IDWaitMasterchainSeqno:  "liteServer.waitMasterchainSeqno",
	IDError:                 "liteServer.error",
	IDAccountID:             "liteServer.accountId",
	IDMasterchainInfo:       "liteServer.masterchainInfo",
	IDCurrentTime:           "liteServer.currentTime",
	IDVersion:               "liteServer.version",
	IDBlockHeader:           "liteServer.blockHeader",
	IDSendMsgStatus:         "liteServer.sendMsgStatus",
	IDAccountState:          "liteServer.accountState",
	IDRunMethodResult:       "liteServer.runMethodResult",
	IDTransactionList:       "liteServer.transactionList",
	IDTransactionID3:        "liteServer.transactionId3",
	IDBlockTransactionsExt:  "liteServer.blockTransactionsExt",
	IDAllShardsInfo:         "liteServer.allShardsInfo",
	IDConfigInfo:            "liteServer.configInfo",
	IDGetMasterchainInfo:    "liteServer.getMasterchainInfo",
	IDGetTime:               "liteServer.getTime",
	IDGetVersion:            "liteServer.getVersion",
	IDGetBlockHeader:        "liteServer.getBlockHeader",
	IDSendMessage:           "liteServer.sendMessage",
	IDGetAccountState:       "liteServer.getAccountState",
	IDRunSmcMethod:          "liteServer.runSmcMethod",
	IDGetAllShardsInfo:      "liteServer.getAllShardsInfo",
	IDGetTransactions:       "liteServer.getTransactions",
	IDLookupBlock:           "liteServer.lookupBlock",
	IDListBlockTransactions: "liteServer.listBlockTransactionsExt",
	IDGetConfigAll:          "liteServer.getConfigAll",
}

// Name returns the schema name of a constructor id, or its hex form when unknown.
func Name(id uint32) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("#%08x", id)
}
