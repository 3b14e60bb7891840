package program

import "github.com/gagliardetto/solana-go"

var (
	Pyth              = solana.MustPublicKeyFromBase58("FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH")
	Solend            = solana.MustPublicKeyFromBase58("So1endDq2YkqhipRh3WViPa8hdiSpxWy6z3Z6tMCpAo")
	Token             = solana.TokenProgramID
	AssociatedToken   = solana.SPLAssociatedTokenAccountProgramID
	System            = solana.SystemProgramID
	SysClock          = solana.SysVarClockPubkey
	Swap              = solana.MustPublicKeyFromBase58("SwaPpA9LAaLfeLi3a68M4DjnLqgtticKg6CnyNwgAC8")
	MainLendingMarket = solana.MustPublicKeyFromBase58("4UpD2fh7xH3VP9QQaXtsS1YY3bxzWhtfpks7FatyKvdY")
)

var (
	USDC = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	SOL  = solana.SolMint
)
